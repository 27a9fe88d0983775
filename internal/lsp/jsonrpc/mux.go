package jsonrpc

import (
	"context"
	"sync"
)

// Mux routes by method name. Unknown requests get MethodNotFound, unknown
// notifications are dropped.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewMux() *Mux { return &Mux{handlers: make(map[string]Handler)} }

func (m *Mux) Handle(method string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = h
}

func (m *Mux) HandleFunc(method string, fn HandlerFunc) { m.Handle(method, fn) }

// Serve dispatches req.
func (m *Mux) Serve(ctx context.Context, c *Conn, req *Request) (any, error) {
	m.mu.RLock()
	h, ok := m.handlers[req.Method]
	m.mu.RUnlock()
	if !ok {
		if req.Notification() {
			return nil, nil
		}
		return nil, Errorf(CodeMethodNotFound, "method not found: %s", req.Method)
	}
	return h.Handle(ctx, c, req)
}

// Handler returns m as a Handler.
func (m *Mux) Handler() Handler { return HandlerFunc(m.Serve) }
