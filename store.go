package poky

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Kishta47/poky-app/internal/singleflight"
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now for TTL arithmetic.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStoreLogger sets the logger used for cache lifecycle events.
func WithStoreLogger(logger Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreMetrics records cache hits, misses, evictions and size.
func WithStoreMetrics(collector *MetricsCollector) StoreOption {
	return func(s *Store) {
		s.metrics = collector
	}
}

// Store is the response cache: one entry per query key, tracking the fetch
// lifecycle of that key. Concurrent subscriptions to a pending key share a
// single fetch. Fetches run under a store-owned context and are never
// cancelled by unsubscribing; Close cancels them.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	flights *singleflight.Group
	hooks   []func(key string)
	nextID  uint64
	closed  bool

	now     func() time.Time
	logger  Logger
	metrics *MetricsCollector

	ctx    context.Context
	cancel context.CancelFunc
}

type entry struct {
	key     string
	fetcher FetchFunc
	ttl     time.Duration

	status    Status
	value     []byte
	err       error
	hasData   bool
	fetchedAt time.Time
	settledAt time.Time

	lastAccess time.Time
	handles    map[uint64]*Handle

	// Fetches are numbered; a result older than the last committed one is
	// dropped. Fetches numbered at or below invalidatedAt started before
	// the last invalidation and do not clear the stale flag.
	seq           uint64
	committed     uint64
	invalidatedAt uint64
	stale         bool
	pending       int
	idle          chan struct{}
}

// StoreStats summarizes the store contents.
type StoreStats struct {
	Entries     int
	Pending     int
	Subscribers int
	InFlight    int
}

// NewStore creates an empty response store.
func NewStore(options ...StoreOption) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		entries: make(map[string]*entry),
		flights: singleflight.New(),
		now:     time.Now,
		logger:  nopLogger{},
		ctx:     ctx,
		cancel:  cancel,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// Subscribe registers interest in key and returns a handle observing it.
// A missing entry is created and fetcher runs once; a pending entry is
// joined; a fresh entry is served as is; a stale or invalidated entry keeps
// serving its value while fetcher refreshes it in the background.
func (s *Store) Subscribe(key string, fetcher FetchFunc, ttl time.Duration) *Handle {
	s.mu.Lock()
	now := s.now()
	endpoint := keyEndpoint(key)

	var notify []*Handle
	e, ok := s.entries[key]
	if !ok {
		e = s.newEntryLocked(key, fetcher, ttl)
		s.metrics.RecordCacheMiss(endpoint)
		s.logger.Debug("Cache miss", "key", key)
		s.startFetchLocked(e)
	} else {
		e.fetcher = fetcher
		e.ttl = ttl

		switch {
		case e.pending > 0:
			s.metrics.RecordDeduplicationHit(endpoint)
			s.logger.Debug("Joined in-flight fetch", "key", key)
		case e.stale || now.Sub(e.settledAt) >= e.ttl:
			if e.hasData {
				s.metrics.RecordCacheStaleHit(endpoint)
			} else {
				s.metrics.RecordCacheMiss(endpoint)
			}
			s.logger.Debug("Revalidating stale entry", "key", key, "age", now.Sub(e.settledAt), "invalidated", e.stale)
			s.startFetchLocked(e)
			notify = e.handleList()
		default:
			s.metrics.RecordCacheHit(endpoint)
		}
	}

	h := &Handle{
		id:      s.nextHandleIDLocked(),
		key:     key,
		fetcher: fetcher,
		ttl:     ttl,
		store:   s,
		changes: make(chan struct{}, 1),
	}
	e.handles[h.id] = h
	e.lastAccess = now

	s.sweepLocked(now)
	s.mu.Unlock()

	notifyAll(notify)
	return h
}

// Unsubscribe releases a handle. The entry stays cached until the sweep
// finds it unobserved past its TTL. Calling it twice is a no-op.
func (s *Store) Unsubscribe(h *Handle) {
	if h == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[h.key]; ok {
		if _, attached := e.handles[h.id]; attached {
			delete(e.handles, h.id)
			e.lastAccess = now
		}
	}
	h.closed = true

	s.sweepLocked(now)
}

// Invalidate marks every entry whose key matches pred as stale and returns
// how many matched. Observed entries are refetched immediately; the others
// are refetched by their next subscriber. A fetch already in flight is not
// cancelled and still commits its result when it completes.
func (s *Store) Invalidate(pred func(key string) bool) int {
	s.mu.Lock()

	var notify []*Handle
	matched := 0
	for key, e := range s.entries {
		if !pred(key) {
			continue
		}
		matched++
		e.stale = true
		e.invalidatedAt = e.seq
		if len(e.handles) > 0 {
			s.startFetchLocked(e)
			notify = append(notify, e.handleList()...)
		}
	}
	s.mu.Unlock()

	if matched > 0 {
		s.logger.Debug("Invalidated entries", "count", matched)
	}
	notifyAll(notify)
	return matched
}

// InvalidatePrefix invalidates every key starting with prefix.
func (s *Store) InvalidatePrefix(prefix string) int {
	return s.Invalidate(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
}

// Reset drops every entry. Handles stay usable; they observe an empty
// entry until they refetch.
func (s *Store) Reset() {
	s.mu.Lock()
	var notify []*Handle
	for key, e := range s.entries {
		s.flights.Forget(key)
		notify = append(notify, e.handleList()...)
		if e.pending > 0 {
			close(e.idle)
		}
	}
	s.entries = make(map[string]*entry)
	s.metrics.RecordCacheSize(0)
	s.mu.Unlock()

	notifyAll(notify)
}

// Sweep removes unobserved entries whose TTL has elapsed since their last
// access and returns how many were removed. Subscribe and Unsubscribe sweep
// implicitly.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

// OnCommit registers fn to run after any fetch result is committed. Hooks
// run without the store lock held.
func (s *Store) OnCommit(fn func(key string)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// State returns the current state of key and whether an entry exists.
func (s *Store) State(key string) (EntryState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return EntryState{Key: key, Status: StatusPending}, false
	}
	return e.state(), true
}

// Snapshot returns the state of every entry that holds data.
func (s *Store) Snapshot() []EntryState {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]EntryState, 0, len(s.entries))
	for _, e := range s.entries {
		if e.hasData {
			states = append(states, e.state())
		}
	}
	return states
}

// Restore seeds the store with previously committed entries. Keys already
// present are left untouched. Restored entries keep their original fetch
// time, so they go stale on schedule.
func (s *Store) Restore(states []EntryState) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	restored := 0
	for _, st := range states {
		if st.Key == "" || st.Value == nil {
			continue
		}
		if _, exists := s.entries[st.Key]; exists {
			continue
		}
		e := s.newEntryLocked(st.Key, nil, st.TTL)
		e.status = StatusSuccess
		e.value = st.Value
		e.hasData = true
		e.fetchedAt = st.FetchedAt
		e.settledAt = st.FetchedAt
		e.lastAccess = now
		restored++
	}
	s.metrics.RecordCacheSize(len(s.entries))
	return restored
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats returns entry, pending and subscriber counts. InFlight counts the
// fetches still tracked for dedup; detached ones are excluded.
func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := StoreStats{Entries: len(s.entries), InFlight: s.flights.InFlight()}
	for _, e := range s.entries {
		if e.pending > 0 {
			stats.Pending++
		}
		stats.Subscribers += len(e.handles)
	}
	return stats
}

// Close cancels in-flight fetches. Fetches started afterwards fail with
// ErrStoreClosed.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

func (s *Store) newEntryLocked(key string, fetcher FetchFunc, ttl time.Duration) *entry {
	e := &entry{
		key:     key,
		fetcher: fetcher,
		ttl:     ttl,
		status:  StatusPending,
		handles: make(map[uint64]*Handle),
	}
	s.entries[key] = e
	s.metrics.RecordCacheSize(len(s.entries))
	return e
}

func (s *Store) nextHandleIDLocked() uint64 {
	s.nextID++
	return s.nextID
}

// startFetchLocked launches a new fetch for e. Any fetch already in flight
// is detached from the flight group and left to finish on its own.
func (s *Store) startFetchLocked(e *entry) {
	if e.fetcher == nil {
		return
	}

	if e.pending > 0 {
		s.flights.Forget(e.key)
	} else {
		e.idle = make(chan struct{})
	}

	e.seq++
	e.pending++
	e.status = StatusPending

	seq := e.seq
	fetcher := e.fetcher
	ctx := s.ctx
	closed := s.closed

	call, _ := s.flights.Start(e.key, func() (interface{}, error) {
		if closed || ctx.Err() != nil {
			return nil, ErrStoreClosed
		}
		return fetcher(ctx)
	})

	go s.await(e, seq, call)
}

func (s *Store) await(e *entry, seq uint64, call *singleflight.Call) {
	<-call.Done()
	val, err := call.Result()

	s.mu.Lock()
	if s.entries[e.key] != e {
		s.mu.Unlock()
		return
	}

	e.pending--
	if e.pending == 0 {
		close(e.idle)
	}

	committed := false
	if seq < e.committed {
		s.logger.Debug("Discarded superseded result", "key", e.key, "seq", seq, "committed", e.committed)
	} else {
		now := s.now()
		e.committed = seq
		e.settledAt = now
		if err != nil {
			e.err = err
			s.logger.Debug("Fetch failed", "key", e.key, "error", err.Error())
		} else {
			payload, _ := val.([]byte)
			e.value = payload
			e.err = nil
			e.hasData = true
			e.fetchedAt = now
		}
		if seq > e.invalidatedAt {
			e.stale = false
		}
		committed = true
	}
	e.settle()

	notify := e.handleList()
	hooks := append([]func(string){}, s.hooks...)
	s.mu.Unlock()

	notifyAll(notify)
	if committed {
		for _, hook := range hooks {
			hook(e.key)
		}
	}
}

func (s *Store) sweepLocked(now time.Time) int {
	removed := 0
	for key, e := range s.entries {
		if len(e.handles) > 0 || e.pending > 0 {
			continue
		}
		if now.Sub(e.lastAccess) >= e.ttl {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		s.metrics.RecordEvictions(removed)
		s.metrics.RecordCacheSize(len(s.entries))
		s.logger.Debug("Swept entries", "removed", removed, "remaining", len(s.entries))
	}
	return removed
}

// settle derives the status from the last committed result. An entry
// stays pending while any fetch is outstanding.
func (e *entry) settle() {
	switch {
	case e.pending > 0:
		e.status = StatusPending
	case e.err != nil:
		e.status = StatusError
	case e.hasData:
		e.status = StatusSuccess
	}
}

func (e *entry) state() EntryState {
	return EntryState{
		Key:         e.key,
		Status:      e.status,
		Value:       e.value,
		Err:         e.err,
		HasData:     e.hasData,
		IsFetching:  e.pending > 0,
		Stale:       e.stale,
		Subscribers: len(e.handles),
		FetchedAt:   e.fetchedAt,
		LastAccess:  e.lastAccess,
		TTL:         e.ttl,
	}
}

func (e *entry) handleList() []*Handle {
	handles := make([]*Handle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	return handles
}

func notifyAll(handles []*Handle) {
	for _, h := range handles {
		h.notify()
	}
}

// keyEndpoint returns the key namespace ("list", "detail") for metric labels.
func keyEndpoint(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

// Handle is one subscriber's view of a cache entry.
type Handle struct {
	id      uint64
	key     string
	fetcher FetchFunc
	ttl     time.Duration
	store   *Store
	changes chan struct{}
	closed  bool
}

// Key returns the cache key the handle observes.
func (h *Handle) Key() string {
	return h.key
}

// State returns the current state of the observed entry.
func (h *Handle) State() EntryState {
	st, _ := h.store.State(h.key)
	return st
}

// Changes delivers a signal whenever the observed entry changes. Signals
// coalesce: a slow reader sees at most one pending signal.
func (h *Handle) Changes() <-chan struct{} {
	return h.changes
}

// Wait blocks until no fetch is outstanding for the entry and returns its
// state.
func (h *Handle) Wait(ctx context.Context) (EntryState, error) {
	for {
		h.store.mu.Lock()
		e, ok := h.store.entries[h.key]
		if !ok || e.pending == 0 {
			var st EntryState
			if ok {
				st = e.state()
			} else {
				st = EntryState{Key: h.key, Status: StatusPending}
			}
			h.store.mu.Unlock()
			return st, nil
		}
		idle := e.idle
		h.store.mu.Unlock()

		select {
		case <-ctx.Done():
			return h.State(), ctx.Err()
		case <-idle:
		}
	}
}

// Refetch starts a fetch for the entry even if its value is fresh or its
// last fetch failed. It joins a fetch that is already in flight. A closed
// handle does nothing.
func (h *Handle) Refetch() {
	s := h.store
	s.mu.Lock()
	if h.closed {
		s.mu.Unlock()
		return
	}

	e, ok := s.entries[h.key]
	if !ok {
		e = s.newEntryLocked(h.key, h.fetcher, h.ttl)
	}
	e.handles[h.id] = h
	e.lastAccess = s.now()
	if e.fetcher == nil {
		e.fetcher = h.fetcher
	}
	if e.pending == 0 {
		s.startFetchLocked(e)
	}
	notify := e.handleList()
	s.mu.Unlock()

	notifyAll(notify)
}

// Close unsubscribes the handle.
func (h *Handle) Close() {
	h.store.Unsubscribe(h)
}

func (h *Handle) notify() {
	select {
	case h.changes <- struct{}{}:
	default:
	}
}
