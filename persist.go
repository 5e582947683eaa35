package poky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// PersistKey is the storage key of the snapshot document.
	PersistKey = "persist:pokemon-app"
	// SnapshotVersion is written into every snapshot document.
	SnapshotVersion = 1

	statusSuccess = "success"
)

// Storage is a durable key/value store for snapshot documents. Get returns
// ErrNotFound for a missing key.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// snapshotDocument is the persisted form of the store. Only the response
// cache namespace is written.
type snapshotDocument struct {
	PokemonAPI *cacheSnapshot `json:"pokemonApi"`
	Version    int            `json:"version"`
}

type cacheSnapshot struct {
	Queries map[string]persistedQuery `json:"queries"`
}

type persistedQuery struct {
	Status     string          `json:"status"`
	Data       json.RawMessage `json:"data"`
	FetchedAt  int64           `json:"fetchedAt"`
	TTLSeconds int64           `json:"ttlSeconds"`
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithPersistKey overrides the storage key of the snapshot document.
func WithPersistKey(key string) BridgeOption {
	return func(b *Bridge) {
		if key != "" {
			b.key = key
		}
	}
}

// WithBridgeLogger sets the logger used by the bridge.
func WithBridgeLogger(logger Logger) BridgeOption {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Bridge copies completed cache entries between a Store and a Storage.
type Bridge struct {
	store   *Store
	storage Storage
	key     string
	logger  Logger

	mu        sync.Mutex
	watchOnce sync.Once
	dirty     chan struct{}
}

// NewBridge binds a store to a storage backend.
func NewBridge(store *Store, storage Storage, options ...BridgeOption) *Bridge {
	b := &Bridge{
		store:   store,
		storage: storage,
		key:     PersistKey,
		logger:  nopLogger{},
		dirty:   make(chan struct{}, 1),
	}

	for _, option := range options {
		option(b)
	}

	return b
}

// Persist writes every entry holding a successful payload. Entries whose
// last fetch failed are left out. It returns how many entries were written.
func (b *Bridge) Persist(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc := snapshotDocument{
		PokemonAPI: &cacheSnapshot{Queries: make(map[string]persistedQuery)},
		Version:    SnapshotVersion,
	}
	for _, st := range b.store.Snapshot() {
		if !st.HasData || st.Status == StatusError {
			continue
		}
		doc.PokemonAPI.Queries[st.Key] = persistedQuery{
			Status:     statusSuccess,
			Data:       json.RawMessage(st.Value),
			FetchedAt:  st.FetchedAt.UnixMilli(),
			TTLSeconds: int64(st.TTL / time.Second),
		}
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	// payloads hold URLs with '&'; escaping would change their bytes
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(doc); err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}

	if err := b.storage.Set(ctx, b.key, buf.Bytes()); err != nil {
		return 0, fmt.Errorf("write snapshot %s: %w", b.key, err)
	}

	n := len(doc.PokemonAPI.Queries)
	b.logger.Debug("Persisted snapshot", "key", b.key, "entries", n, "bytes", buf.Len())
	return n, nil
}

// Restore loads the snapshot and seeds the store with it. A missing
// snapshot restores nothing. Keys already in the store are kept.
func (b *Bridge) Restore(ctx context.Context) (int, error) {
	raw, err := b.storage.Get(ctx, b.key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read snapshot %s: %w", b.key, err)
	}

	var doc snapshotDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("decode snapshot %s: %w", b.key, err)
	}
	if doc.Version != SnapshotVersion {
		return 0, fmt.Errorf("snapshot %s has version %d, want %d", b.key, doc.Version, SnapshotVersion)
	}
	if doc.PokemonAPI == nil {
		return 0, nil
	}

	states := make([]EntryState, 0, len(doc.PokemonAPI.Queries))
	for key, q := range doc.PokemonAPI.Queries {
		if q.Status != statusSuccess || len(q.Data) == 0 {
			continue
		}
		states = append(states, EntryState{
			Key:       key,
			Status:    StatusSuccess,
			Value:     []byte(q.Data),
			HasData:   true,
			FetchedAt: time.UnixMilli(q.FetchedAt),
			TTL:       persistedTTL(key, q.TTLSeconds),
		})
	}

	n := b.store.Restore(states)
	b.logger.Debug("Restored snapshot", "key", b.key, "entries", n, "skipped", len(states)-n)
	return n, nil
}

// Purge deletes the snapshot document.
func (b *Bridge) Purge(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.storage.Delete(ctx, b.key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete snapshot %s: %w", b.key, err)
	}
	return nil
}

// Watch persists the store after commits until ctx is done. Commits that
// arrive within debounce of each other are written once. Pending changes
// are flushed before Watch returns.
func (b *Bridge) Watch(ctx context.Context, debounce time.Duration) error {
	b.watchOnce.Do(func() {
		b.store.OnCommit(func(string) {
			select {
			case b.dirty <- struct{}{}:
			default:
			}
		})
	})

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending bool
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			if pending {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_, err := b.Persist(flushCtx)
				cancel()
				if err != nil {
					return err
				}
			}
			return nil
		case <-b.dirty:
			pending = true
			stopTimer()
			timer = time.NewTimer(debounce)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			pending = false
			if _, err := b.Persist(ctx); err != nil {
				b.logger.Warn("Persist failed", "key", b.key, "error", err.Error())
				pending = true
			}
		}
	}
}

func persistedTTL(key string, seconds int64) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if strings.HasPrefix(key, "list:") {
		return ListTTL
	}
	return DetailTTL
}
