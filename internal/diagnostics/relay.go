// Package diagnostics relays reports from any number of analyzers to one
// notification sink that must be called one report at a time.
//
// Publish never blocks and never backpressures producers; the unbounded
// queue absorbs the difference between publish and delivery rates. Reports
// reach the sink in global publish order, each exactly once while the relay
// runs. A sink failure is logged and the report is gone; there is no retry.
package diagnostics

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/SemanticWebLanguageServer/swls-web/internal/metrics"
	"github.com/SemanticWebLanguageServer/swls-web/internal/queue"
)

var ErrAlreadyRunning = errors.New("diagnostics: relay already running")

// Sink is the external notification channel.
type Sink interface {
	PublishDiagnostics(ctx context.Context, r Report) error
}

type SinkFunc func(ctx context.Context, r Report) error

func (f SinkFunc) PublishDiagnostics(ctx context.Context, r Report) error { return f(ctx, r) }

type options struct {
	limit int
	name  string
	log   zerolog.Logger
}

type Option func(*options)

// WithLimit bounds the report queue. Zero keeps it unbounded.
func WithLimit(n int) Option { return func(o *options) { o.limit = n } }

func WithName(name string) Option { return func(o *options) { o.name = name } }

func WithLogger(log zerolog.Logger) Option { return func(o *options) { o.log = log } }

// Publisher is a producer handle; safe for concurrent use.
type Publisher struct {
	tx *queue.Sender[Report]
}

// Publish queues r for delivery. It is silently dropped once the relay is
// gone.
func (p *Publisher) Publish(r Report) {
	if p.tx.Send(r) {
		metrics.IncDiagnosticsPublished()
	}
}

func (p *Publisher) Clone() *Publisher { return &Publisher{tx: p.tx.Clone()} }

// Release drops the handle; the relay stops after the last one is released
// and the queue is drained.
func (p *Publisher) Release() { p.tx.Release() }

// Relay is the single consumer calling the sink.
type Relay struct {
	sink    Sink
	rx      *queue.Receiver[Report]
	opts    options
	running atomic.Bool
	done    chan struct{}
}

func NewRelay(sink Sink, opts ...Option) (*Relay, *Publisher) {
	o := options{name: "diagnostics", log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With().Str("component", o.name).Logger()
	tx, rx := queue.NewBounded[Report](o.limit)
	rx.OnDepth(metrics.QueueDepth(o.name))
	return &Relay{sink: sink, rx: rx, opts: o, done: make(chan struct{})}, &Publisher{tx: tx}
}

// Run delivers reports until every publisher is released (nil) or ctx is
// cancelled (ctx.Err()). The next report is not dequeued until the sink call
// for the current one has returned.
func (r *Relay) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(r.done)
	defer r.rx.Close()

	for {
		rep, err := r.rx.Recv(ctx)
		if errors.Is(err, queue.ErrClosed) {
			r.opts.log.Debug().Msg("all publishers released, relay stopping")
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.sink.PublishDiagnostics(ctx, rep); err != nil {
			metrics.IncDiagnosticsFailed()
			r.opts.log.Warn().Err(err).Str("uri", rep.URI).Msg("diagnostics not delivered")
		} else {
			metrics.IncDiagnosticsDelivered()
		}
	}
}

// Done is closed when Run returns.
func (r *Relay) Done() <-chan struct{} { return r.done }
