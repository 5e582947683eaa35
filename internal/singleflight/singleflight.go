package singleflight

import "sync"

// Group manages a set of in-flight calls to prevent duplicate work.
// Each call is exposed as a future so that callers which cannot block
// (the response store) can attach to it and collect the result later.
type Group struct {
	mu sync.Mutex
	m  map[string]*Call
}

// Call represents an active or completed function call.
type Call struct {
	done chan struct{}
	val  interface{}
	err  error
}

// New creates a new singleflight Group.
func New() *Group {
	return &Group{
		m: make(map[string]*Call),
	}
}

// Done is closed once the call has completed.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome of a completed call. It must only be used
// after Done has been closed.
func (c *Call) Result() (interface{}, error) {
	return c.val, c.err
}

// Start runs fn in its own goroutine unless a call for key is already in
// flight, in which case the existing call is returned. The boolean reports
// whether this invocation started fn.
func (g *Group) Start(key string, fn func() (interface{}, error)) (*Call, bool) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		return c, false
	}

	c := &Call{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	go g.run(key, c, fn)

	return c, true
}

// Forget detaches the in-flight call for key, so the next Start begins a
// new call even while the previous one is still running. The detached call
// still completes and delivers its result to anyone holding it.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

// InFlight reports the number of calls currently tracked by the group.
func (g *Group) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}

func (g *Group) run(key string, c *Call, fn func() (interface{}, error)) {
	c.val, c.err = fn()

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()

	close(c.done)
}
