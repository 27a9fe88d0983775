// Package world serializes every mutation of one exclusively-owned value.
//
// The value handed to New is only ever touched by the goroutine running
// Serializer.Run. Everyone else holds a Handle and submits batches of
// commands; a batch is applied contiguously, in arrival order, and never
// concurrently with another batch. No locks guard the value because nothing
// but the owner goroutine can reach it.
package world

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/SemanticWebLanguageServer/swls-web/internal/metrics"
	"github.com/SemanticWebLanguageServer/swls-web/internal/queue"
)

var (
	ErrStopped         = errors.New("world: serializer stopped")
	ErrCommandPanicked = errors.New("world: command panicked")
	ErrAlreadyRunning  = errors.New("world: serializer already running")
)

// Command is one mutation, run on the owner goroutine.
type Command[W any] func(W)

type options struct {
	limit int
	name  string
	log   zerolog.Logger
}

type Option func(*options)

// WithLimit bounds the number of queued batches. Zero keeps the default
// unbounded queue.
func WithLimit(n int) Option { return func(o *options) { o.limit = n } }

// WithName labels the queue in metrics and logs.
func WithName(name string) Option { return func(o *options) { o.name = name } }

func WithLogger(log zerolog.Logger) Option { return func(o *options) { o.log = log } }

// Handle submits batches. It is safe for concurrent use; Clone gives each
// producer its own handle so the queue closes once all of them are released.
type Handle[W any] struct {
	tx   *queue.Sender[[]Command[W]]
	done <-chan struct{}
}

// Submit enqueues cmds as one batch. It never blocks on the default queue.
// Submissions after the serializer stopped are silently dropped.
func (h *Handle[W]) Submit(cmds ...Command[W]) {
	if len(cmds) == 0 {
		return
	}
	batch := make([]Command[W], len(cmds))
	copy(batch, cmds)
	h.tx.Send(batch)
}

func (h *Handle[W]) Clone() *Handle[W] {
	return &Handle[W]{tx: h.tx.Clone(), done: h.done}
}

// Release drops the handle. Once every handle is released the serializer
// drains what is queued and Run returns nil.
func (h *Handle[W]) Release() { h.tx.Release() }

// Serializer owns the world value.
type Serializer[W any] struct {
	world   W
	rx      *queue.Receiver[[]Command[W]]
	pending []Command[W]
	opts    options
	running atomic.Bool
	done    chan struct{}
}

// New takes ownership of w. The caller must not keep using w afterwards.
func New[W any](w W, opts ...Option) (*Serializer[W], *Handle[W]) {
	o := options{name: "world", log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	tx, rx := queue.NewBounded[[]Command[W]](o.limit)
	rx.OnDepth(metrics.QueueDepth(o.name))
	s := &Serializer[W]{
		world: w,
		rx:    rx,
		opts:  o,
		done:  make(chan struct{}),
	}
	s.opts.log = o.log.With().Str("component", o.name).Logger()
	return s, &Handle[W]{tx: tx, done: s.done}
}

// Run applies batches until every handle is released (returns nil) or ctx
// is cancelled (returns ctx.Err()). Run may only be called once.
func (s *Serializer[W]) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)
	defer s.rx.Close()

	for {
		batch, err := s.rx.Recv(ctx)
		if errors.Is(err, queue.ErrClosed) {
			s.opts.log.Debug().Msg("all handles released, serializer stopping")
			return nil
		}
		if err != nil {
			return err
		}
		s.pending = append(s.pending, batch...)
		s.flush()
	}
}

// flush applies every pending command in order and empties the list.
func (s *Serializer[W]) flush() {
	cmds := s.pending
	for _, cmd := range cmds {
		s.apply(cmd)
	}
	metrics.AddBatch(len(cmds))
	clear(cmds)
	s.pending = cmds[:0]
}

func (s *Serializer[W]) apply(cmd Command[W]) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncCommandPanics()
			s.opts.log.Error().Str("panic", fmt.Sprint(r)).Msg("command panicked")
		}
	}()
	cmd(s.world)
}

// Done is closed when Run returns.
func (s *Serializer[W]) Done() <-chan struct{} { return s.done }

// Query runs fn on the owner goroutine and returns its result. It is the
// only way to read the world from outside.
func Query[W, T any](ctx context.Context, h *Handle[W], fn func(W) T) (T, error) {
	var zero T
	reply := make(chan T, 1)
	sent := h.tx.Send([]Command[W]{func(w W) {
		defer close(reply)
		reply <- fn(w)
	}})
	if !sent {
		return zero, ErrStopped
	}
	select {
	case v, ok := <-reply:
		if !ok {
			return zero, ErrCommandPanicked
		}
		return v, nil
	case <-h.done:
		// The reply may have landed just before Run returned.
		select {
		case v, ok := <-reply:
			if ok {
				return v, nil
			}
		default:
		}
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
