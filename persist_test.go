package poky

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStorage struct {
	mu     sync.Mutex
	values map[string][]byte
	writes int
	setErr error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{values: make(map[string][]byte)}
}

func (m *memoryStorage) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *memoryStorage) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = append([]byte(nil), value...)
	m.writes++
	return nil
}

func (m *memoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *memoryStorage) Close() error { return nil }

func (m *memoryStorage) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func seedStore(t *testing.T, store *Store, key string, payload string, ttl time.Duration) *Handle {
	t.Helper()
	h := store.Subscribe(key, func(context.Context) ([]byte, error) {
		return []byte(payload), nil
	}, ttl)
	waitIdle(t, h)
	return h
}

func TestBridgeRoundTripIsByteIdentical(t *testing.T) {
	payload := `{"count":151,"next":"https://pokeapi.co/api/v2/pokemon/?offset=20&limit=20","previous":null,"results":[{"name":"bulbasaur","url":"https://pokeapi.co/api/v2/pokemon/1/"}]}`
	storage := newMemoryStorage()

	source := NewStore()
	defer source.Close()
	seedStore(t, source, "list:20:0", payload, ListTTL)
	seedStore(t, source, "detail:25", `{"id":25,"name":"pikachu <é>"}`, DetailTTL)

	n, err := NewBridge(source, storage).Persist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	target := NewStore()
	defer target.Close()
	restored, err := NewBridge(target, storage).Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	for _, key := range []string{"list:20:0", "detail:25"} {
		want, _ := source.State(key)
		got, ok := target.State(key)
		require.True(t, ok, key)
		assert.Equal(t, want.Value, got.Value, key)
		assert.Equal(t, StatusSuccess, got.Status)
		assert.Equal(t, want.TTL, got.TTL)
		assert.Equal(t, want.FetchedAt.UnixMilli(), got.FetchedAt.UnixMilli())
	}
}

func TestBridgeDocumentShape(t *testing.T) {
	storage := newMemoryStorage()
	store := NewStore()
	defer store.Close()
	seedStore(t, store, "detail:1", `{"id":1}`, DetailTTL)

	_, err := NewBridge(store, storage).Persist(context.Background())
	require.NoError(t, err)

	raw, err := storage.Get(context.Background(), PersistKey)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.JSONEq(t, `1`, string(doc["version"]))

	var ns struct {
		Queries map[string]map[string]json.RawMessage `json:"queries"`
	}
	require.NoError(t, json.Unmarshal(doc["pokemonApi"], &ns))
	require.Contains(t, ns.Queries, "detail:1")
	q := ns.Queries["detail:1"]
	assert.JSONEq(t, `"success"`, string(q["status"]))
	assert.JSONEq(t, `{"id":1}`, string(q["data"]))
	assert.JSONEq(t, `600`, string(q["ttlSeconds"]))
	assert.Contains(t, q, "fetchedAt")
}

func TestBridgeSkipsFailedEntries(t *testing.T) {
	storage := newMemoryStorage()
	store := NewStore()
	defer store.Close()

	h := store.Subscribe("detail:999", func(context.Context) ([]byte, error) {
		return nil, &ClientError{Type: ErrorTypeHTTPStatus, StatusCode: 404}
	}, DetailTTL)
	waitIdle(t, h)

	n, err := NewBridge(store, storage).Persist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBridgeRestoreMissingSnapshot(t *testing.T) {
	store := NewStore()
	defer store.Close()

	n, err := NewBridge(store, newMemoryStorage()).Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, store.Len())
}

func TestBridgeRestoreRejectsUnknownVersion(t *testing.T) {
	storage := newMemoryStorage()
	require.NoError(t, storage.Set(context.Background(), PersistKey, []byte(`{"pokemonApi":{"queries":{}},"version":7}`)))

	store := NewStore()
	defer store.Close()
	_, err := NewBridge(store, storage).Restore(context.Background())
	assert.Error(t, err)
}

func TestBridgeRestoreCorruptSnapshot(t *testing.T) {
	storage := newMemoryStorage()
	require.NoError(t, storage.Set(context.Background(), PersistKey, []byte(`{"pokemonApi":`)))

	store := NewStore()
	defer store.Close()
	_, err := NewBridge(store, storage).Restore(context.Background())
	assert.Error(t, err)
}

func TestBridgeRestoredEntriesExpire(t *testing.T) {
	storage := newMemoryStorage()
	fetchedAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	doc := `{"pokemonApi":{"queries":{"detail:1":{"status":"success","data":{"id":1},"fetchedAt":` +
		jsonInt(fetchedAt.UnixMilli()) + `,"ttlSeconds":600}}},"version":1}`
	require.NoError(t, storage.Set(context.Background(), PersistKey, []byte(doc)))

	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))
	defer store.Close()
	n, err := NewBridge(store, storage).Restore(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	clock.Advance(601 * time.Second)
	fetcher := newGatedFetcher(true, nil)
	h := store.Subscribe("detail:1", fetcher.Fetch, DetailTTL)
	st := h.State()
	assert.Equal(t, `{"id":1}`, string(st.Value))
	assert.True(t, st.IsFetching)

	fetcher.release(1)
	st = waitIdle(t, h)
	assert.JSONEq(t, `{"n":1}`, string(st.Value))
}

func TestBridgePurge(t *testing.T) {
	storage := newMemoryStorage()
	store := NewStore()
	defer store.Close()
	seedStore(t, store, "detail:1", `{"id":1}`, DetailTTL)

	bridge := NewBridge(store, storage, WithPersistKey("persist:test"))
	_, err := bridge.Persist(context.Background())
	require.NoError(t, err)
	_, err = storage.Get(context.Background(), "persist:test")
	require.NoError(t, err)

	require.NoError(t, bridge.Purge(context.Background()))
	_, err = storage.Get(context.Background(), "persist:test")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBridgePersistStorageError(t *testing.T) {
	storage := newMemoryStorage()
	storage.setErr = errors.New("disk full")
	store := NewStore()
	defer store.Close()

	_, err := NewBridge(store, storage).Persist(context.Background())
	assert.ErrorIs(t, err, storage.setErr)
}

func TestBridgeWatchDebouncesCommits(t *testing.T) {
	storage := newMemoryStorage()
	store := NewStore()
	defer store.Close()
	bridge := NewBridge(store, storage)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.Watch(ctx, 200*time.Millisecond) }()

	// give Watch time to register its commit hook
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.hooks) == 1
	}, time.Second, time.Millisecond)

	for i := 1; i <= 3; i++ {
		seedStore(t, store, "detail:"+jsonInt(int64(i)), `{"id":`+jsonInt(int64(i))+`}`, DetailTTL)
	}

	require.Eventually(t, func() bool { return storage.Writes() >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, storage.Writes())

	cancel()
	require.NoError(t, <-done)

	target := NewStore()
	defer target.Close()
	n, err := NewBridge(target, storage).Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
