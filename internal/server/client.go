package server

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/SemanticWebLanguageServer/swls-web/internal/diagnostics"
)

var errNotBound = errors.New("server: client not bound to a connection")

// Notifier is the part of jsonrpc.Conn the client needs.
type Notifier interface {
	Notify(ctx context.Context, method string, params any) error
}

// Client is the diagnostics.Sink that reaches the editor. It is created
// before the connection exists and bound to it afterwards.
type Client struct {
	n atomic.Pointer[Notifier]
}

var _ diagnostics.Sink = (*Client)(nil)

func (c *Client) Bind(n Notifier) { c.n.Store(&n) }

func (c *Client) PublishDiagnostics(ctx context.Context, r diagnostics.Report) error {
	n := c.n.Load()
	if n == nil {
		return errNotBound
	}
	findings := r.Findings
	if findings == nil {
		findings = []diagnostics.Finding{}
	}
	return (*n).Notify(ctx, MethodPublishDiagnostics, PublishDiagnosticsParams{
		URI:         r.URI,
		Version:     r.Version,
		Diagnostics: findings,
	})
}
