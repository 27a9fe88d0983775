// Package server is the language server backend: it turns document
// notifications into world batches and publishes analysis results.
package server

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/SemanticWebLanguageServer/swls-web/internal/analysis"
	"github.com/SemanticWebLanguageServer/swls-web/internal/diagnostics"
	"github.com/SemanticWebLanguageServer/swls-web/internal/lsp/jsonrpc"
	"github.com/SemanticWebLanguageServer/swls-web/internal/world"
	"github.com/SemanticWebLanguageServer/swls-web/internal/world/docs"
)

const Name = "swls"

// Version is reported in the initialize result.
var Version = "dev"

const (
	MethodInitialize         = "initialize"
	MethodInitialized        = "initialized"
	MethodDidOpen            = "textDocument/didOpen"
	MethodDidChange          = "textDocument/didChange"
	MethodDidClose           = "textDocument/didClose"
	MethodShutdown           = "shutdown"
	MethodExit               = "exit"
	MethodDocuments          = "swls/documents"
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
)

type Backend struct {
	mux      *jsonrpc.Mux
	world    *world.Handle[*docs.Store]
	pub      *diagnostics.Publisher
	log      zerolog.Logger
	shutdown atomic.Bool
}

// New wires the backend to the world and the diagnostic relay. The handles
// stay owned by the caller.
func New(h *world.Handle[*docs.Store], pub *diagnostics.Publisher, log zerolog.Logger) *Backend {
	b := &Backend{mux: jsonrpc.NewMux(), world: h, pub: pub, log: log}
	b.mux.HandleFunc(MethodInitialize, b.initialize)
	b.mux.HandleFunc(MethodInitialized, b.noop)
	b.mux.HandleFunc(MethodDidOpen, b.didOpen)
	b.mux.HandleFunc(MethodDidChange, b.didChange)
	b.mux.HandleFunc(MethodDidClose, b.didClose)
	b.mux.HandleFunc(MethodShutdown, b.onShutdown)
	b.mux.HandleFunc(MethodExit, b.exit)
	b.mux.HandleFunc(MethodDocuments, b.documents)
	return b
}

func (b *Backend) Handle(ctx context.Context, c *jsonrpc.Conn, req *jsonrpc.Request) (any, error) {
	if b.shutdown.Load() && req.Method != MethodExit {
		if req.Notification() {
			return nil, nil
		}
		return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidRequest, "server is shutting down")
	}
	return b.mux.Serve(ctx, c, req)
}

func (b *Backend) initialize(_ context.Context, _ *jsonrpc.Conn, req *jsonrpc.Request) (any, error) {
	var p initializeParams
	if err := req.Unmarshal(&p); err != nil {
		return nil, err
	}
	ev := b.log.Info().Str("root", p.RootURI)
	if p.ClientInfo != nil {
		ev = ev.Str("client", p.ClientInfo.Name)
	}
	ev.Msg("initialize")
	return InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync: TextDocumentSyncOptions{OpenClose: true, Change: syncFull},
		},
		ServerInfo: ServerInfo{Name: Name, Version: Version},
	}, nil
}

func (b *Backend) noop(context.Context, *jsonrpc.Conn, *jsonrpc.Request) (any, error) {
	return nil, nil
}

func (b *Backend) didOpen(_ context.Context, _ *jsonrpc.Conn, req *jsonrpc.Request) (any, error) {
	var p didOpenParams
	if err := req.Unmarshal(&p); err != nil {
		return nil, err
	}
	td := p.TextDocument
	b.world.Submit(
		func(s *docs.Store) { s.Open(td.URI, td.LanguageID, td.Version, td.Text) },
		b.analyze(td.URI),
	)
	return nil, nil
}

func (b *Backend) didChange(_ context.Context, _ *jsonrpc.Conn, req *jsonrpc.Request) (any, error) {
	var p didChangeParams
	if err := req.Unmarshal(&p); err != nil {
		return nil, err
	}
	if len(p.ContentChanges) == 0 {
		return nil, nil
	}
	// Full sync: the last change carries the whole text.
	text := p.ContentChanges[len(p.ContentChanges)-1].Text
	uri, version := p.TextDocument.URI, p.TextDocument.Version
	b.world.Submit(
		func(s *docs.Store) {
			if _, ok := s.Change(uri, version, text); !ok {
				b.log.Debug().Str("uri", uri).Int32("version", version).Msg("change ignored")
			}
		},
		b.analyze(uri),
	)
	return nil, nil
}

func (b *Backend) didClose(_ context.Context, _ *jsonrpc.Conn, req *jsonrpc.Request) (any, error) {
	var p didCloseParams
	if err := req.Unmarshal(&p); err != nil {
		return nil, err
	}
	uri := p.TextDocument.URI
	b.world.Submit(func(s *docs.Store) {
		if s.Close(uri) {
			b.pub.Publish(diagnostics.Report{URI: uri})
		}
	})
	return nil, nil
}

// analyze runs on the owner goroutine right after the batch's mutation.
func (b *Backend) analyze(uri string) world.Command[*docs.Store] {
	return func(s *docs.Store) {
		doc, ok := s.Get(uri)
		if !ok {
			return
		}
		version := doc.Version
		b.pub.Publish(diagnostics.Report{
			URI:      uri,
			Findings: analysis.Analyze(doc),
			Version:  &version,
		})
	}
}

func (b *Backend) onShutdown(context.Context, *jsonrpc.Conn, *jsonrpc.Request) (any, error) {
	b.shutdown.Store(true)
	b.log.Info().Msg("shutdown requested")
	return nil, nil
}

func (b *Backend) exit(context.Context, *jsonrpc.Conn, *jsonrpc.Request) (any, error) {
	return nil, jsonrpc.ErrStop
}

func (b *Backend) documents(ctx context.Context, _ *jsonrpc.Conn, _ *jsonrpc.Request) (any, error) {
	uris, err := world.Query(ctx, b.world, func(s *docs.Store) []string { return s.URIs() })
	if errors.Is(err, world.ErrStopped) {
		return nil, jsonrpc.Errorf(jsonrpc.CodeInternalError, "world is not running")
	}
	return uris, err
}
