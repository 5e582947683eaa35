package poky

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Result is the four-field view presentation code renders.
type Result[T any] struct {
	// Data is the last successfully fetched value, nil if none.
	Data *T
	// Error is set only while the entry is in the error state.
	Error error
	// IsLoading is true until the key has produced data for the first time.
	IsLoading bool
	// IsFetching is true whenever a fetch is outstanding, including
	// background revalidation while Data is shown.
	IsFetching bool
}

// Query is a live observation of one cache entry, decoded as T.
type Query[T any] struct {
	handle *Handle

	mu      sync.Mutex
	raw     []byte
	decoded *T
}

func newQuery[T any](h *Handle) *Query[T] {
	return &Query[T]{handle: h}
}

// Key returns the cache key behind the query.
func (q *Query[T]) Key() string {
	return q.handle.Key()
}

// Result returns the current result.
func (q *Query[T]) Result() Result[T] {
	return q.resultFrom(q.handle.State())
}

// Wait blocks until no fetch is outstanding and returns the result.
func (q *Query[T]) Wait(ctx context.Context) (Result[T], error) {
	st, err := q.handle.Wait(ctx)
	return q.resultFrom(st), err
}

// Changes signals whenever the result may have changed.
func (q *Query[T]) Changes() <-chan struct{} {
	return q.handle.Changes()
}

// Refetch fetches again regardless of freshness; this is the retry action
// offered after an error.
func (q *Query[T]) Refetch() {
	q.handle.Refetch()
}

// FetchedAt returns when the current data was fetched.
func (q *Query[T]) FetchedAt() time.Time {
	return q.handle.State().FetchedAt
}

// Close stops observing the entry.
func (q *Query[T]) Close() {
	q.handle.Close()
}

func (q *Query[T]) resultFrom(st EntryState) Result[T] {
	r := Result[T]{
		IsLoading:  st.Status == StatusPending && !st.HasData,
		IsFetching: st.IsFetching,
	}

	if st.HasData {
		data, err := q.decode(st.Value)
		if err != nil {
			r.Error = &ClientError{
				Type:      ErrorTypeDecode,
				Message:   "cached payload does not match the expected shape",
				Cause:     err,
				Endpoint:  keyEndpoint(st.Key),
				Timestamp: time.Now(),
			}
		}
		r.Data = data
	}

	if st.Status == StatusError {
		r.Error = st.Err
	}

	return r
}

// decode unmarshals raw, reusing the previous value when the payload has
// not changed since the last call.
func (q *Query[T]) decode(raw []byte) (*T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.decoded != nil && bytes.Equal(q.raw, raw) {
		return q.decoded, nil
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	q.raw = raw
	q.decoded = &v
	return &v, nil
}
