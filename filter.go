package poky

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxBaseStat is the highest base stat value in the catalog, used to scale
// stat bars.
const MaxBaseStat = 255

const artworkURLFormat = "https://raw.githubusercontent.com/PokeAPI/sprites/master/sprites/pokemon/%s.png"

// FilterByName returns the items whose name contains term, ignoring case.
// An empty term returns every item. The input order is kept.
func FilterByName(items []ListItem, term string) []ListItem {
	term = strings.ToLower(strings.TrimSpace(term))
	filtered := make([]ListItem, 0, len(items))
	for _, item := range items {
		if term == "" || strings.Contains(strings.ToLower(item.Name), term) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// ID returns the record identifier embedded in the item URL, i.e. the last
// non-empty path segment.
func (i ListItem) ID() string {
	segments := strings.Split(i.URL, "/")
	for j := len(segments) - 1; j >= 0; j-- {
		if segments[j] != "" {
			return segments[j]
		}
	}
	return ""
}

// ArtworkURL returns the default sprite URL for a record identifier.
func ArtworkURL(id string) string {
	return fmt.Sprintf(artworkURLFormat, id)
}

// HasNext reports whether the server advertised a following page.
func (r *ListResponse) HasNext() bool {
	return r != nil && r.Next != nil && *r.Next != ""
}

// HasPrevious reports whether the server advertised a preceding page.
func (r *ListResponse) HasPrevious() bool {
	return r != nil && r.Previous != nil && *r.Previous != ""
}

// NextPage returns the query for the page after current, if there is one.
func (r *ListResponse) NextPage(current ListQuery) (ListQuery, bool) {
	current, err := current.Normalize()
	if err != nil || !r.HasNext() {
		return current, false
	}
	return ListQuery{Limit: current.Limit, Offset: current.Offset + current.Limit}, true
}

// PreviousPage returns the query for the page before current, clamped at
// offset zero, if there is one.
func (r *ListResponse) PreviousPage(current ListQuery) (ListQuery, bool) {
	current, err := current.Normalize()
	if err != nil || !r.HasPrevious() || current.Offset == 0 {
		return current, false
	}
	offset := current.Offset - current.Limit
	if offset < 0 {
		offset = 0
	}
	return ListQuery{Limit: current.Limit, Offset: offset}, true
}

// HeightMeters converts the height from decimetres.
func (d *Detail) HeightMeters() float64 {
	return float64(d.Height) / 10
}

// WeightKilograms converts the weight from hectograms.
func (d *Detail) WeightKilograms() float64 {
	return float64(d.Weight) / 10
}

// TypeNames returns the type names in slot order as served.
func (d *Detail) TypeNames() []string {
	names := make([]string, 0, len(d.Types))
	for _, t := range d.Types {
		names = append(names, t.Type.Name)
	}
	return names
}

// SpriteURL returns the front sprite, falling back to the artwork URL.
func (d *Detail) SpriteURL() string {
	if d.Sprites.FrontDefault != nil && *d.Sprites.FrontDefault != "" {
		return *d.Sprites.FrontDefault
	}
	return ArtworkURL(strconv.Itoa(d.ID))
}

// Percent returns the base stat as a percentage of MaxBaseStat, capped at 100.
func (s Stat) Percent() float64 {
	p := float64(s.BaseStat) / MaxBaseStat * 100
	return math.Min(p, 100)
}
