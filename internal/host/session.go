// Package host runs one language server session over a message-passing
// transport: chunks go in through Send, whole protocol messages come out
// through the post callback.
package host

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/SemanticWebLanguageServer/swls-web/internal/config"
	"github.com/SemanticWebLanguageServer/swls-web/internal/diagnostics"
	"github.com/SemanticWebLanguageServer/swls-web/internal/lsp/frame"
	"github.com/SemanticWebLanguageServer/swls-web/internal/lsp/jsonrpc"
	"github.com/SemanticWebLanguageServer/swls-web/internal/metrics"
	"github.com/SemanticWebLanguageServer/swls-web/internal/queue"
	"github.com/SemanticWebLanguageServer/swls-web/internal/server"
	"github.com/SemanticWebLanguageServer/swls-web/internal/transport/chanio"
	"github.com/SemanticWebLanguageServer/swls-web/internal/world"
	"github.com/SemanticWebLanguageServer/swls-web/internal/world/docs"
)

// PostFunc delivers one outbound message to the host. Its error is ignored.
type PostFunc func(msg []byte) error

type options struct {
	log     zerolog.Logger
	limits  config.Queues
	maxBody int
	handler jsonrpc.Handler
}

type Option func(*options)

func WithLogger(log zerolog.Logger) Option { return func(o *options) { o.log = log } }

// WithLimits bounds the session queues. The zero value keeps all of them
// unbounded.
func WithLimits(q config.Queues) Option { return func(o *options) { o.limits = q } }

func WithMaxBody(n int) Option { return func(o *options) { o.maxBody = n } }

// WithHandler replaces the language server backend.
func WithHandler(h jsonrpc.Handler) Option { return func(o *options) { o.handler = h } }

type Session struct {
	id     string
	in     *queue.Sender[[]byte]
	log    zerolog.Logger
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// New starts a session. It returns immediately; the session runs until
// Close is called and the engine drains, or ctx is cancelled.
func New(ctx context.Context, post PostFunc, opts ...Option) *Session {
	o := options{log: zerolog.Nop(), maxBody: frame.DefaultMaxBody}
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	log := o.log.With().Str("session", id).Logger()
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	inTx, inRx := queue.NewBounded[[]byte](o.limits.InboundLimit)
	outTx, outRx := queue.NewBounded[[]byte](o.limits.OutboundLimit)
	inRx.OnDepth(metrics.QueueDepth("inbound"))
	outRx.OnDepth(metrics.QueueDepth("outbound"))
	reader := chanio.NewReader(gctx, inRx)
	writer := chanio.NewWriter(outTx)

	ser, wh := world.New(docs.NewStore(),
		world.WithLimit(o.limits.CommandLimit),
		world.WithLogger(log))
	client := &server.Client{}
	relay, pub := diagnostics.NewRelay(client,
		diagnostics.WithLimit(o.limits.DiagnosticLimit),
		diagnostics.WithLogger(log))

	handler := o.handler
	if handler == nil {
		handler = server.New(wh, pub, log)
	}
	conn := jsonrpc.NewConn(reader, writer, handler,
		jsonrpc.WithLogger(log),
		jsonrpc.WithMaxBody(o.maxBody))
	client.Bind(conn)

	g.Go(func() error { return ser.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return chanio.Forward(gctx, outRx, post) })
	g.Go(func() error {
		err := conn.Run(gctx)
		if err != nil {
			log.Warn().Err(err).Msg("engine stopped")
		}
		// Shut down back to front so nothing queued by an earlier stage
		// is lost: inbound, world, diagnostics, then outbound.
		reader.Close()
		wh.Release()
		<-ser.Done()
		pub.Release()
		<-relay.Done()
		outTx.Release()
		return err
	})

	s := &Session{
		id:     id,
		in:     inTx,
		log:    log,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	metrics.IncSessions()
	log.Debug().Msg("session started")

	go func() {
		s.err = g.Wait()
		// Forward may have stopped on cancellation with messages queued.
		outRx.Close()
		cancel()
		metrics.DecSessions()
		log.Debug().Err(s.err).Msg("session ended")
		close(s.done)
	}()
	return s
}

func (s *Session) ID() string { return s.id }

// Send injects one chunk of the inbound byte stream. msg is copied. Chunks
// sent after Close are dropped.
func (s *Session) Send(msg []byte) {
	chunk := make([]byte, len(msg))
	copy(chunk, msg)
	if s.in.Send(chunk) {
		metrics.AddInbound(len(chunk))
	}
}

// Close ends the inbound stream. The engine sees EOF once queued chunks are
// read, then the session drains and stops.
func (s *Session) Close() {
	s.closeOnce.Do(s.in.Release)
}

// Abort stops the session without draining.
func (s *Session) Abort() {
	s.Close()
	s.cancel()
}

// Done is closed when every session goroutine has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends and returns the first engine error.
func (s *Session) Wait() error {
	<-s.done
	return s.err
}
