// Package queue provides the many-producer, single-consumer channel every
// component in swls-web communicates through.
//
// The default queue is unbounded: Send never blocks and the backlog grows
// without limit when the consumer stalls. Memory is not bounded under
// sustained backpressure. NewBounded offers the same types with a capacity,
// in which case Send waits for room instead of growing the backlog.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Recv once every sender has been released and the
// backlog is drained, or after the receiver itself was closed.
var ErrClosed = errors.New("queue: closed")

// State is the outcome of a non-suspending poll.
type State int

const (
	Ready State = iota
	Empty
	Closed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Empty:
		return "empty"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	Depth     int
	Limit     int
	Senders   int
	Enqueued  uint64
	Dequeued  uint64
	Discarded uint64
}

type core[T any] struct {
	mu      sync.Mutex
	notFull *sync.Cond
	items   []T
	limit   int
	senders int
	closed  bool // every sender released
	gone    bool // receiver closed

	// notEmpty carries at most one pending wakeup for the single consumer.
	notEmpty chan struct{}

	onDepth func(delta int) // called under mu on every backlog change

	enqueued  uint64
	dequeued  uint64
	discarded uint64
}

// New returns the two ends of an unbounded queue.
func New[T any]() (*Sender[T], *Receiver[T]) {
	return NewBounded[T](0)
}

// NewBounded returns a queue holding at most limit items. A limit <= 0 is
// unbounded and equivalent to New.
func NewBounded[T any](limit int) (*Sender[T], *Receiver[T]) {
	if limit < 0 {
		limit = 0
	}
	c := &core[T]{
		limit:    limit,
		senders:  1,
		notEmpty: make(chan struct{}, 1),
	}
	c.notFull = sync.NewCond(&c.mu)
	return &Sender[T]{c: c}, &Receiver[T]{c: c}
}

func (c *core[T]) wake() {
	select {
	case c.notEmpty <- struct{}{}:
	default:
	}
}

func (c *core[T]) push(v T) bool {
	c.mu.Lock()
	for c.limit > 0 && len(c.items) >= c.limit && !c.gone && !c.closed {
		c.notFull.Wait()
	}
	if c.gone || c.closed {
		c.discarded++
		c.mu.Unlock()
		return false
	}
	c.items = append(c.items, v)
	c.enqueued++
	c.depthChanged(1)
	c.mu.Unlock()
	c.wake()
	return true
}

func (c *core[T]) pop() (T, State) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) > 0 {
		v := c.items[0]
		c.items[0] = zero
		c.items = c.items[1:]
		if len(c.items) == 0 {
			c.items = nil
		}
		c.dequeued++
		c.depthChanged(-1)
		if c.limit > 0 {
			c.notFull.Signal()
		}
		return v, Ready
	}
	if c.closed || c.gone {
		return zero, Closed
	}
	return zero, Empty
}

func (c *core[T]) depthChanged(delta int) {
	if c.onDepth != nil && delta != 0 {
		c.onDepth(delta)
	}
}

func (c *core[T]) release() {
	c.mu.Lock()
	c.senders--
	if c.senders <= 0 && !c.closed {
		c.closed = true
		c.notFull.Broadcast()
	}
	c.mu.Unlock()
	c.wake()
}

// Sender is one producer handle. It is safe for concurrent use; Clone hands
// out additional handles that keep the queue open independently.
type Sender[T any] struct {
	c        *core[T]
	released atomic.Bool
}

// Send enqueues v. It reports false when v was discarded because the
// receiver is gone or this handle was released. On an unbounded queue Send
// never blocks.
func (s *Sender[T]) Send(v T) bool {
	if s == nil || s.released.Load() {
		return false
	}
	return s.c.push(v)
}

// Clone returns a new handle on the same queue. Cloning a released handle, or
// a queue whose senders are all gone, yields a handle that discards.
func (s *Sender[T]) Clone() *Sender[T] {
	out := &Sender[T]{c: s.c}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.released.Load() || s.c.closed {
		out.released.Store(true)
		return out
	}
	s.c.senders++
	return out
}

// Release drops this handle. When the last handle is released the queue
// closes and the receiver sees ErrClosed after draining. Release is
// idempotent.
func (s *Sender[T]) Release() {
	if s == nil {
		return
	}
	if s.released.CompareAndSwap(false, true) {
		s.c.release()
	}
}

// Receiver is the single consumer end. Its methods must not be called from
// more than one goroutine at a time.
type Receiver[T any] struct {
	c *core[T]
}

// Recv suspends until an item is available, the queue closes, or ctx is done.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	for {
		v, st := r.c.pop()
		switch st {
		case Ready:
			return v, nil
		case Closed:
			return v, ErrClosed
		}
		select {
		case <-r.c.notEmpty:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryRecv polls without suspending.
func (r *Receiver[T]) TryRecv() (T, State) {
	return r.c.pop()
}

// Close marks the consumer as gone. Pending items are discarded, subsequent
// sends report false and blocked senders are released.
func (r *Receiver[T]) Close() {
	c := r.c
	c.mu.Lock()
	if !c.gone {
		c.gone = true
		c.discarded += uint64(len(c.items))
		c.depthChanged(-len(c.items))
		c.items = nil
		c.notFull.Broadcast()
	}
	c.mu.Unlock()
	c.wake()
}

// OnDepth installs fn to be told of every change to the backlog, starting
// with the current backlog. fn runs with the queue locked and must not call
// back into it. Items discarded by Close are reported as removed, so the
// deltas of a closed queue always sum to zero.
func (r *Receiver[T]) OnDepth(fn func(delta int)) {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDepth = fn
	c.depthChanged(len(c.items))
}

// Len returns the current backlog.
func (r *Receiver[T]) Len() int {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return len(r.c.items)
}

// Stats returns counters for the queue.
func (r *Receiver[T]) Stats() Stats {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Depth:     len(c.items),
		Limit:     c.limit,
		Senders:   c.senders,
		Enqueued:  c.enqueued,
		Dequeued:  c.dequeued,
		Discarded: c.discarded,
	}
}
