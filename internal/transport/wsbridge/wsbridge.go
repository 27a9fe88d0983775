// Package wsbridge serves language server sessions over WebSocket. Each
// WebSocket message carries one bare JSON-RPC payload in either direction;
// the bridge adds and strips base protocol framing at the edge.
package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"

	"github.com/SemanticWebLanguageServer/swls-web/internal/config"
	"github.com/SemanticWebLanguageServer/swls-web/internal/healthz"
	"github.com/SemanticWebLanguageServer/swls-web/internal/host"
	"github.com/SemanticWebLanguageServer/swls-web/internal/lsp/frame"
	"github.com/SemanticWebLanguageServer/swls-web/internal/metrics"
	"github.com/SemanticWebLanguageServer/swls-web/internal/queue"
)

// Connections beyond max_sessions kept for /metrics and /healthz.
const controlHeadroom = 4

const HealthPath = config.HealthPath

type Server struct {
	cfg      *config.Config
	log      zerolog.Logger
	hostOpts []host.Option
	health   *healthz.HealthChecker
	handler  http.Handler

	active atomic.Int64

	// mu guards sessions and closing; slots are reserved and wg is added to
	// only while holding it, so Shutdown's Wait never races an Add.
	mu       sync.Mutex
	sessions map[string]*host.Session
	closing  bool
	wg       sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc

	httpSrv *http.Server
	ln      net.Listener
	once    sync.Once
}

// New builds the bridge. Extra host options are applied to every session
// after the ones derived from cfg.
func New(cfg *config.Config, log zerolog.Logger, opts ...host.Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		log:      log.With().Str("component", "wsbridge").Logger(),
		health:   healthz.New(),
		sessions: make(map[string]*host.Session),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	s.hostOpts = append([]host.Option{
		host.WithLogger(log),
		host.WithLimits(cfg.Queues),
		host.WithMaxBody(cfg.Frame.MaxBody),
	}, opts...)

	s.health.Register(healthz.SessionsCheck(cfg.Server.MaxSessions, s.active.Load))

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.Path, s.handleWS)
	mux.Handle(HealthPath, s.health.HTTPHandler())
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}
	s.handler = mux
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// Listen binds the configured address. The listener is capped so at most
// max_sessions sessions plus a few control requests hold connections.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Listen, err)
	}
	if s.cfg.Server.MaxSessions > 0 {
		ln = netutil.LimitListener(ln, s.cfg.Server.MaxSessions+controlHeadroom)
	}
	s.ln = ln
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.log.Info().Str("addr", s.ln.Addr().String()).Str("path", s.cfg.Server.Path).Msg("bridge listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpSrv.Serve(s.ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops accepting, asks every session to drain and waits for them
// until ctx expires; whatever is left is aborted.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		if s.httpSrv != nil {
			err = s.httpSrv.Shutdown(ctx)
		}
		s.mu.Lock()
		s.closing = true
		for _, sess := range s.sessions {
			sess.Close()
		}
		s.mu.Unlock()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.log.Warn().Msg("sessions did not drain in time, aborting")
			s.cancel()
			<-done
		}
		s.cancel()
	})
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if err := s.reserve(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.unreserve()

	w.Header().Set("Cache-Control", "no-store")
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.cfg.Server.OriginPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	c.SetReadLimit(s.cfg.Server.ReadLimit)
	s.serveConn(c)
}

var (
	errTooManySessions = errors.New("too many sessions")
	errShuttingDown    = errors.New("shutting down")
)

// reserve claims a session slot before the upgrade so concurrent upgrades
// cannot overshoot max_sessions.
func (s *Server) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return errShuttingDown
	}
	if limit := s.cfg.Server.MaxSessions; limit > 0 && s.active.Load() >= int64(limit) {
		return errTooManySessions
	}
	s.active.Add(1)
	s.wg.Add(1)
	return nil
}

func (s *Server) unreserve() {
	s.active.Add(-1)
	s.wg.Done()
}

// serveConn runs one session. Three goroutines: the reader injects framed
// payloads, the writer sends deframed payloads, the third ties the writer's
// lifetime to the session's.
func (s *Server) serveConn(c *websocket.Conn) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	outTx, outRx := queue.New[[]byte]()
	splitter := frame.NewSplitter(s.cfg.Frame.MaxBody)

	// post is only ever called from the session's forwarding goroutine, so
	// the splitter needs no lock.
	post := func(msg []byte) error {
		payloads, err := splitter.Push(msg)
		for _, p := range payloads {
			outTx.Send(p)
		}
		return err
	}
	sess := host.New(ctx, post, s.hostOpts...)
	log := s.log.With().Str("session", sess.ID()).Logger()
	s.track(sess)
	defer s.untrack(sess)
	log.Info().Msg("session opened")

	var g errgroup.Group
	g.Go(func() error {
		defer sess.Close()
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				log.Debug().Err(err).Int("close_status", int(websocket.CloseStatus(err))).Msg("websocket read ended")
				return nil
			}
			sess.Send(frame.Encode(data))
		}
	})
	g.Go(func() error {
		<-sess.Done()
		outTx.Release()
		return nil
	})
	g.Go(func() error {
		defer c.Close(websocket.StatusNormalClosure, "session ended")
		for {
			msg, err := outRx.Recv(ctx)
			if err != nil {
				return nil
			}
			if err := c.Write(ctx, websocket.MessageText, msg); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				outRx.Close()
				return nil
			}
		}
	})
	_ = g.Wait()

	if err := sess.Wait(); err != nil {
		log.Warn().Err(err).Msg("session ended with error")
		return
	}
	log.Info().Msg("session closed")
}

// track registers sess for Shutdown. A session that starts after Shutdown
// began is closed straight away.
func (s *Server) track(sess *host.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		sess.Close()
	}
	s.sessions[sess.ID()] = sess
}

func (s *Server) untrack(sess *host.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.ID())
}

// Sessions reports the number of live sessions.
func (s *Server) Sessions() int { return int(s.active.Load()) }
