package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/SemanticWebLanguageServer/swls-web/internal/lsp/frame"
	"github.com/SemanticWebLanguageServer/swls-web/internal/metrics"
)

const methodCancel = "$/cancelRequest"

type connOptions struct {
	log     zerolog.Logger
	maxBody int
}

type ConnOption func(*connOptions)

func WithLogger(log zerolog.Logger) ConnOption { return func(o *connOptions) { o.log = log } }

func WithMaxBody(n int) ConnOption { return func(o *connOptions) { o.maxBody = n } }

// Conn serves one peer. Notifications are handled in arrival order on the
// read loop; each request runs on its own goroutine.
type Conn struct {
	r    *frame.Reader
	w    io.Writer
	h    Handler
	opts connOptions

	wmu sync.Mutex

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func NewConn(r io.Reader, w io.Writer, h Handler, opts ...ConnOption) *Conn {
	o := connOptions{log: zerolog.Nop(), maxBody: frame.DefaultMaxBody}
	for _, opt := range opts {
		opt(&o)
	}
	return &Conn{
		r:        frame.NewReader(r, frame.WithMaxBody(o.maxBody)),
		w:        w,
		h:        h,
		opts:     o,
		inflight: make(map[string]context.CancelFunc),
	}
}

// Run reads until the stream ends. A clean EOF or ErrStop from a
// notification handler returns nil after in-flight requests finish.
func (c *Conn) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.wg.Wait()

	for {
		payload, err := c.r.ReadMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			metrics.IncRPCErrors()
			c.opts.log.Warn().Err(err).Int("bytes", len(payload)).Msg("malformed message")
			c.reply(json.RawMessage("null"), nil, Errorf(CodeParseError, "parse error: %v", err))
			continue
		}
		if msg.Method == "" {
			c.opts.log.Debug().RawJSON("id", rawOrNull(msg.ID)).Msg("unexpected response ignored")
			continue
		}

		req := &Request{ID: msg.ID, Method: msg.Method, Params: msg.Params}
		metrics.IncRPCRequests()

		if req.Method == methodCancel {
			c.cancel(req)
			continue
		}
		if req.Notification() {
			if err := c.notification(ctx, req); errors.Is(err, ErrStop) {
				return nil
			}
			continue
		}

		key := idKey(req.ID)
		hctx, hcancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.inflight[key] = hcancel
		c.mu.Unlock()

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer func() {
				c.mu.Lock()
				delete(c.inflight, key)
				c.mu.Unlock()
				hcancel()
			}()
			res, err := c.call(hctx, req)
			c.reply(req.ID, res, err)
		}()
	}
}

func (c *Conn) notification(ctx context.Context, req *Request) error {
	_, err := c.call(ctx, req)
	if err != nil && !errors.Is(err, ErrStop) {
		metrics.IncRPCErrors()
		c.opts.log.Warn().Err(err).Str("method", req.Method).Msg("notification failed")
	}
	return err
}

func (c *Conn) call(ctx context.Context, req *Request) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Errorf(CodeInternalError, "handler panic: %v", r)
		}
	}()
	return c.h.Handle(ctx, c, req)
}

func (c *Conn) cancel(req *Request) {
	var p struct {
		ID json.RawMessage `json:"id"`
	}
	if err := req.Unmarshal(&p); err != nil || len(p.ID) == 0 {
		return
	}
	c.mu.Lock()
	cancel, ok := c.inflight[idKey(p.ID)]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *Conn) reply(id json.RawMessage, res any, err error) {
	resp := response{JSONRPC: Version, ID: id}
	if err != nil {
		metrics.IncRPCErrors()
		resp.Error = asError(err)
	} else {
		data, merr := json.Marshal(res)
		if merr != nil {
			resp.Error = Errorf(CodeInternalError, "marshal result: %v", merr)
		} else {
			resp.Result = data
		}
	}
	c.write(resp)
}

// Notify sends a server-initiated notification.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	return c.write(Message{JSONRPC: Version, Method: method, Params: data})
}

func (c *Conn) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := frame.Write(c.w, data); err != nil {
		c.opts.log.Warn().Err(err).Msg("write failed")
		return err
	}
	return nil
}

func idKey(id json.RawMessage) string { return string(bytes.TrimSpace(id)) }

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
