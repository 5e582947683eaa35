package poky

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// ListTTL is how long a catalog page stays fresh.
	ListTTL = 300 * time.Second
	// DetailTTL is how long a single record stays fresh.
	DetailTTL = 600 * time.Second
	// DefaultPageSize is used when a ListQuery leaves Limit at zero.
	DefaultPageSize = 20

	listPath   = "/pokemon/"
	detailPath = "/pokemon/%s/"
)

// Catalog is the query surface consumed by presentation code. Every query
// is backed by the shared Store, so two views asking for the same page or
// record share one entry and one fetch.
type Catalog struct {
	client *Client
	store  *Store
}

// NewCatalog binds a client and a store.
func NewCatalog(client *Client, store *Store) *Catalog {
	return &Catalog{client: client, store: store}
}

// Store returns the store backing the catalog.
func (c *Catalog) Store() *Store {
	return c.store
}

// ListCatalog observes one catalog page. The caller must Close the query
// when it stops observing it.
func (c *Catalog) ListCatalog(q ListQuery) (*Query[ListResponse], error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"limit":  strconv.Itoa(q.Limit),
		"offset": strconv.Itoa(q.Offset),
	}
	fetch := func(ctx context.Context) ([]byte, error) {
		return c.client.Fetch(ctx, listPath, params)
	}

	return newQuery[ListResponse](c.store.Subscribe(q.Key(), fetch, ListTTL)), nil
}

// GetDetail observes one record by name or number.
func (c *Catalog) GetDetail(id string) (*Query[Detail], error) {
	id, err := NormalizeID(id)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf(detailPath, id)
	fetch := func(ctx context.Context) ([]byte, error) {
		return c.client.Fetch(ctx, path, nil)
	}

	return newQuery[Detail](c.store.Subscribe(DetailKey(id), fetch, DetailTTL)), nil
}

// GetDetailByNumber observes one record by its catalog number.
func (c *Catalog) GetDetailByNumber(n int) (*Query[Detail], error) {
	if n <= 0 {
		return nil, newValidationError(fmt.Sprintf("record number must be positive, got %d", n))
	}
	return c.GetDetail(strconv.Itoa(n))
}

// InvalidateLists marks every cached catalog page stale.
func (c *Catalog) InvalidateLists() int {
	return c.store.InvalidatePrefix("list:")
}

// InvalidateDetail marks one cached record stale.
func (c *Catalog) InvalidateDetail(id string) int {
	id, err := NormalizeID(id)
	if err != nil {
		return 0
	}
	key := DetailKey(id)
	return c.store.Invalidate(func(k string) bool { return k == key })
}

// Normalize applies the default page size and rejects negative values.
func (q ListQuery) Normalize() (ListQuery, error) {
	if q.Limit == 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit < 0 {
		return q, newValidationError(fmt.Sprintf("limit must be positive, got %d", q.Limit))
	}
	if q.Offset < 0 {
		return q, newValidationError(fmt.Sprintf("offset must not be negative, got %d", q.Offset))
	}
	return q, nil
}

// Key returns the cache key of the page.
func (q ListQuery) Key() string {
	return fmt.Sprintf("list:%d:%d", q.Limit, q.Offset)
}

// DetailKey returns the cache key of a normalized record identifier.
func DetailKey(id string) string {
	return "detail:" + id
}

// NormalizeID trims and lower-cases a record identifier. Only letters,
// digits and hyphens are accepted, so the identifier is always a single
// path segment.
func NormalizeID(id string) (string, error) {
	id = strings.ToLower(strings.Trim(strings.TrimSpace(id), "/"))
	if id == "" {
		return "", newValidationError("record identifier must not be empty")
	}
	for _, r := range id {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return "", newValidationError(fmt.Sprintf("record identifier %q contains %q", id, r))
		}
	}
	return id, nil
}
