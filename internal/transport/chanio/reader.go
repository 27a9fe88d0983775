// Package chanio adapts message queues to byte streams and back.
//
// A host that can only deliver discrete buffers feeds a Reader, which the
// protocol engine consumes as an ordinary io.Reader. Everything the engine
// writes to a Writer leaves as one discrete message per Write call.
package chanio

import (
	"context"
	"errors"
	"io"

	"github.com/SemanticWebLanguageServer/swls-web/internal/metrics"
	"github.com/SemanticWebLanguageServer/swls-web/internal/queue"
)

// Reader turns a queue of byte chunks into an ordered byte stream. Chunk
// boundaries are not preserved; only byte order is.
//
// Reader is not safe for concurrent reads, matching io.Reader conventions.
type Reader struct {
	ctx     context.Context
	rx      *queue.Receiver[[]byte]
	pending []byte // unconsumed remainder of the last chunk
}

// NewReader returns a Reader whose reads are cancelled with ctx.
func NewReader(ctx context.Context, rx *queue.Receiver[[]byte]) *Reader {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Reader{ctx: ctx, rx: rx}
}

// Read fills p from the pending chunk, waiting for the next chunk only when
// nothing is pending. It returns io.EOF once the queue is closed and every
// chunk has been consumed, and keeps returning io.EOF afterwards.
func (r *Reader) Read(p []byte) (int, error) {
	return r.ReadContext(r.ctx, p)
}

// ReadContext is Read with a per-call cancellation. A cancelled read returns
// ctx.Err() and leaves any pending bytes in place.
func (r *Reader) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if r.pending != nil {
			if len(r.pending) > 0 {
				n := copy(p, r.pending)
				r.pending = r.pending[n:]
				metrics.AddBytesRead(n)
				return n, nil
			}
			r.pending = nil
		}

		chunk, err := r.rx.Recv(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
		// An empty chunk is not end of stream; loop and wait for the next one.
		r.pending = chunk
	}
}

// Buffered reports how many bytes are pending from the current chunk.
func (r *Reader) Buffered() int { return len(r.pending) }

// Close drops the pending chunk and closes the queue's consuming side.
// Producers sending afterwards are silently discarded.
func (r *Reader) Close() error {
	r.pending = nil
	r.rx.Close()
	return nil
}
