package poky

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// gatedFetcher counts calls. When gated, call n blocks until release(n).
type gatedFetcher struct {
	calls  atomic.Int32
	gated  bool
	mu     sync.Mutex
	gates  map[int32]chan struct{}
	result func(n int32) ([]byte, error)
}

func newGatedFetcher(gated bool, result func(n int32) ([]byte, error)) *gatedFetcher {
	if result == nil {
		result = func(n int32) ([]byte, error) {
			return []byte(fmt.Sprintf(`{"n":%d}`, n)), nil
		}
	}
	return &gatedFetcher{gated: gated, gates: make(map[int32]chan struct{}), result: result}
}

func (f *gatedFetcher) gate(n int32) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gates[n]
	if !ok {
		g = make(chan struct{})
		f.gates[n] = g
	}
	return g
}

func (f *gatedFetcher) release(n int32) {
	close(f.gate(n))
}

func (f *gatedFetcher) Fetch(ctx context.Context) ([]byte, error) {
	n := f.calls.Add(1)
	if f.gated {
		select {
		case <-f.gate(n):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result(n)
}

func (f *gatedFetcher) Calls() int {
	return int(f.calls.Load())
}

func waitIdle(t *testing.T, h *Handle) EntryState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := h.Wait(ctx)
	require.NoError(t, err)
	return st
}

func TestStoreDeduplicatesConcurrentSubscribers(t *testing.T) {
	store := NewStore()
	defer store.Close()
	fetcher := newGatedFetcher(true, nil)

	var handles []*Handle
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := store.Subscribe("detail:1", fetcher.Fetch, DetailTTL)
			mu.Lock()
			handles = append(handles, h)
			mu.Unlock()
		}()
	}
	wg.Wait()

	st, ok := store.State("detail:1")
	require.True(t, ok)
	assert.Equal(t, StatusPending, st.Status)
	assert.True(t, st.IsFetching)
	assert.Equal(t, 10, st.Subscribers)

	require.Eventually(t, func() bool { return fetcher.Calls() == 1 }, time.Second, time.Millisecond)
	fetcher.release(1)

	for _, h := range handles {
		st := waitIdle(t, h)
		assert.Equal(t, StatusSuccess, st.Status)
		assert.JSONEq(t, `{"n":1}`, string(st.Value))
	}
	assert.Equal(t, 1, fetcher.Calls())
}

func TestStoreFreshEntryIsServedWithoutFetch(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))
	defer store.Close()
	fetcher := newGatedFetcher(false, nil)

	h := store.Subscribe("list:20:0", fetcher.Fetch, ListTTL)
	waitIdle(t, h)

	clock.Advance(ListTTL - time.Second)
	h2 := store.Subscribe("list:20:0", fetcher.Fetch, ListTTL)
	st := h2.State()

	assert.Equal(t, StatusSuccess, st.Status)
	assert.False(t, st.IsFetching)
	assert.Equal(t, 1, fetcher.Calls())
}

func TestStoreRevalidatesAtTTL(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))
	defer store.Close()
	fetcher := newGatedFetcher(true, nil)

	h := store.Subscribe("list:20:0", fetcher.Fetch, ListTTL)
	fetcher.release(1)
	waitIdle(t, h)

	clock.Advance(ListTTL)
	h2 := store.Subscribe("list:20:0", fetcher.Fetch, ListTTL)
	st := h2.State()

	assert.True(t, st.HasData)
	assert.True(t, st.IsFetching)
	assert.JSONEq(t, `{"n":1}`, string(st.Value))

	fetcher.release(2)
	st = waitIdle(t, h2)
	assert.Equal(t, StatusSuccess, st.Status)
	assert.JSONEq(t, `{"n":2}`, string(st.Value))
	assert.Equal(t, 2, fetcher.Calls())
}

func TestStoreStaleWhileRevalidateFromRestore(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))
	defer store.Close()

	restored := store.Restore([]EntryState{{
		Key:       "detail:1",
		Value:     []byte(`{"id":1,"name":"bulbasaur"}`),
		FetchedAt: clock.Now(),
		TTL:       DetailTTL,
	}})
	require.Equal(t, 1, restored)

	clock.Advance(601 * time.Second)
	fetcher := newGatedFetcher(true, func(int32) ([]byte, error) {
		return []byte(`{"id":1,"name":"bulbasaur","height":7}`), nil
	})
	h := store.Subscribe("detail:1", fetcher.Fetch, DetailTTL)

	st := h.State()
	assert.True(t, st.HasData)
	assert.True(t, st.IsFetching)
	assert.Equal(t, `{"id":1,"name":"bulbasaur"}`, string(st.Value))

	fetcher.release(1)
	st = waitIdle(t, h)
	assert.False(t, st.IsFetching)
	assert.Equal(t, `{"id":1,"name":"bulbasaur","height":7}`, string(st.Value))
}

func TestStoreKeysAreIsolated(t *testing.T) {
	store := NewStore()
	defer store.Close()
	fetcher := newGatedFetcher(false, nil)

	a := store.Subscribe("list:20:0", fetcher.Fetch, ListTTL)
	b := store.Subscribe("list:20:20", fetcher.Fetch, ListTTL)
	waitIdle(t, a)
	waitIdle(t, b)

	assert.Equal(t, 2, fetcher.Calls())
	assert.Equal(t, 2, store.Len())
}

func TestStoreErrorEntry(t *testing.T) {
	store := NewStore()
	defer store.Close()

	boom := errors.New("boom")
	fetcher := newGatedFetcher(false, func(n int32) ([]byte, error) {
		if n == 1 {
			return nil, boom
		}
		return []byte(`{"ok":true}`), nil
	})

	h := store.Subscribe("detail:999", fetcher.Fetch, DetailTTL)
	st := waitIdle(t, h)
	assert.Equal(t, StatusError, st.Status)
	assert.ErrorIs(t, st.Err, boom)
	assert.False(t, st.HasData)

	// a fresh error is served as is
	h2 := store.Subscribe("detail:999", fetcher.Fetch, DetailTTL)
	assert.Equal(t, StatusError, h2.State().Status)
	assert.Equal(t, 1, fetcher.Calls())

	h.Refetch()
	st = waitIdle(t, h)
	assert.Equal(t, StatusSuccess, st.Status)
	assert.NoError(t, st.Err)
	assert.Equal(t, 2, fetcher.Calls())
}

func TestStoreErrorKeepsPreviousData(t *testing.T) {
	store := NewStore()
	defer store.Close()

	fetcher := newGatedFetcher(false, func(n int32) ([]byte, error) {
		if n == 2 {
			return nil, errors.New("unavailable")
		}
		return []byte(`{"v":1}`), nil
	})

	h := store.Subscribe("detail:1", fetcher.Fetch, DetailTTL)
	waitIdle(t, h)
	h.Refetch()
	st := waitIdle(t, h)

	assert.Equal(t, StatusError, st.Status)
	assert.True(t, st.HasData)
	assert.Equal(t, `{"v":1}`, string(st.Value))
}

func TestStoreInvalidateRefetchesObservedEntries(t *testing.T) {
	store := NewStore()
	defer store.Close()
	fetcher := newGatedFetcher(true, nil)

	h := store.Subscribe("list:20:0", fetcher.Fetch, ListTTL)
	fetcher.release(1)
	waitIdle(t, h)

	unobserved := newGatedFetcher(false, nil)
	other := store.Subscribe("list:20:20", unobserved.Fetch, ListTTL)
	waitIdle(t, other)
	other.Close()

	matched := store.InvalidatePrefix("list:")
	assert.Equal(t, 2, matched)

	st := h.State()
	assert.True(t, st.Stale)
	assert.True(t, st.IsFetching)
	assert.Equal(t, 1, unobserved.Calls())

	fetcher.release(2)
	st = waitIdle(t, h)
	assert.False(t, st.Stale)
	assert.JSONEq(t, `{"n":2}`, string(st.Value))

	// the unobserved entry refetches on its next subscriber
	again := store.Subscribe("list:20:20", unobserved.Fetch, ListTTL)
	waitIdle(t, again)
	assert.Equal(t, 2, unobserved.Calls())
}

func TestStoreInvalidateDuringFetchNewerWins(t *testing.T) {
	store := NewStore()
	defer store.Close()
	fetcher := newGatedFetcher(true, nil)

	h := store.Subscribe("detail:1", fetcher.Fetch, DetailTTL)
	require.Eventually(t, func() bool { return fetcher.Calls() == 1 }, time.Second, time.Millisecond)

	store.Invalidate(func(key string) bool { return key == "detail:1" })
	require.Eventually(t, func() bool { return fetcher.Calls() == 2 }, time.Second, time.Millisecond)

	fetcher.release(2)
	require.Eventually(t, func() bool { return h.State().HasData }, time.Second, time.Millisecond)
	st := h.State()
	assert.JSONEq(t, `{"n":2}`, string(st.Value))
	assert.True(t, st.IsFetching)
	assert.False(t, st.Stale)

	fetcher.release(1)
	st = waitIdle(t, h)
	assert.Equal(t, StatusSuccess, st.Status)
	assert.JSONEq(t, `{"n":2}`, string(st.Value))
}

func TestStoreInvalidateDuringFetchOlderCommitsFirst(t *testing.T) {
	store := NewStore()
	defer store.Close()
	fetcher := newGatedFetcher(true, nil)

	h := store.Subscribe("detail:1", fetcher.Fetch, DetailTTL)
	require.Eventually(t, func() bool { return fetcher.Calls() == 1 }, time.Second, time.Millisecond)

	store.Invalidate(func(key string) bool { return key == "detail:1" })
	require.Eventually(t, func() bool { return fetcher.Calls() == 2 }, time.Second, time.Millisecond)

	fetcher.release(1)
	require.Eventually(t, func() bool { return h.State().HasData }, time.Second, time.Millisecond)
	st := h.State()
	assert.JSONEq(t, `{"n":1}`, string(st.Value))
	assert.True(t, st.Stale)
	assert.Equal(t, StatusPending, st.Status)

	fetcher.release(2)
	st = waitIdle(t, h)
	assert.JSONEq(t, `{"n":2}`, string(st.Value))
	assert.False(t, st.Stale)
	assert.Equal(t, StatusSuccess, st.Status)
}

func TestStoreSweep(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))
	defer store.Close()
	fetcher := newGatedFetcher(false, nil)

	observed := store.Subscribe("list:20:0", fetcher.Fetch, ListTTL)
	released := store.Subscribe("list:20:20", fetcher.Fetch, ListTTL)
	waitIdle(t, observed)
	waitIdle(t, released)
	released.Close()
	released.Close()

	clock.Advance(ListTTL - time.Second)
	assert.Equal(t, 0, store.Sweep())
	assert.Equal(t, 2, store.Len())

	clock.Advance(time.Second)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())

	_, ok := store.State("list:20:0")
	assert.True(t, ok)
	_, ok = store.State("list:20:20")
	assert.False(t, ok)
}

func TestStoreReset(t *testing.T) {
	store := NewStore()
	defer store.Close()
	fetcher := newGatedFetcher(false, nil)

	h := store.Subscribe("detail:1", fetcher.Fetch, DetailTTL)
	waitIdle(t, h)
	store.Reset()

	assert.Equal(t, 0, store.Len())
	st := h.State()
	assert.False(t, st.HasData)

	h.Refetch()
	st = waitIdle(t, h)
	assert.True(t, st.HasData)
	assert.Equal(t, 1, st.Subscribers)
	assert.Equal(t, 2, fetcher.Calls())
}

func TestStoreChangesAreSignalled(t *testing.T) {
	store := NewStore()
	defer store.Close()
	fetcher := newGatedFetcher(true, nil)

	h := store.Subscribe("detail:1", fetcher.Fetch, DetailTTL)
	fetcher.release(1)

	select {
	case <-h.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change signal after commit")
	}
	assert.Equal(t, StatusSuccess, h.State().Status)
}

func TestStoreHookMaySubscribe(t *testing.T) {
	store := NewStore()
	defer store.Close()
	fetcher := newGatedFetcher(false, nil)

	var nested atomic.Pointer[Handle]
	store.OnCommit(func(key string) {
		if key == "list:20:0" && nested.Load() == nil {
			nested.Store(store.Subscribe("detail:1", fetcher.Fetch, DetailTTL))
		}
	})

	h := store.Subscribe("list:20:0", fetcher.Fetch, ListTTL)
	waitIdle(t, h)

	require.Eventually(t, func() bool { return nested.Load() != nil }, time.Second, time.Millisecond)
	st := waitIdle(t, nested.Load())
	assert.Equal(t, StatusSuccess, st.Status)
}

func TestStoreRestoreKeepsExistingKeys(t *testing.T) {
	store := NewStore()
	defer store.Close()
	fetcher := newGatedFetcher(false, func(int32) ([]byte, error) {
		return []byte(`{"live":true}`), nil
	})

	h := store.Subscribe("detail:1", fetcher.Fetch, DetailTTL)
	waitIdle(t, h)

	restored := store.Restore([]EntryState{
		{Key: "detail:1", Value: []byte(`{"live":false}`), TTL: DetailTTL},
		{Key: "detail:2", Value: []byte(`{"id":2}`), TTL: DetailTTL},
		{Key: "detail:3", TTL: DetailTTL},
	})

	assert.Equal(t, 1, restored)
	assert.Equal(t, `{"live":true}`, string(h.State().Value))
	assert.Len(t, store.Snapshot(), 2)
}

func TestStoreClosedFailsNewFetches(t *testing.T) {
	store := NewStore()
	store.Close()

	fetcher := newGatedFetcher(false, nil)
	h := store.Subscribe("detail:1", fetcher.Fetch, DetailTTL)
	st := waitIdle(t, h)

	assert.Equal(t, StatusError, st.Status)
	assert.ErrorIs(t, st.Err, ErrStoreClosed)
	assert.Equal(t, 0, fetcher.Calls())
}

func TestStoreStats(t *testing.T) {
	store := NewStore()
	defer store.Close()
	fetcher := newGatedFetcher(true, nil)

	a := store.Subscribe("detail:1", fetcher.Fetch, DetailTTL)
	store.Subscribe("detail:1", fetcher.Fetch, DetailTTL)

	stats := store.Stats()
	assert.Equal(t, StoreStats{Entries: 1, Pending: 1, Subscribers: 2, InFlight: 1}, stats)

	fetcher.release(1)
	waitIdle(t, a)
	assert.Eventually(t, func() bool { return store.Stats().InFlight == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, store.Stats().Pending)
}
