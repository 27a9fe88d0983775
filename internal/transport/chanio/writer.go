package chanio

import (
	"github.com/SemanticWebLanguageServer/swls-web/internal/metrics"
	"github.com/SemanticWebLanguageServer/swls-web/internal/queue"
)

// Writer turns every Write into one outbound message. Writes are
// fire-and-forget: they always report full success and, on an unbounded
// queue, never block. If the consuming side is gone the message is dropped
// without telling the caller; by the time the engine writes it has already
// committed to the response.
type Writer struct {
	tx *queue.Sender[[]byte]
}

func NewWriter(tx *queue.Sender[[]byte]) *Writer {
	return &Writer{tx: tx}
}

func (w *Writer) Write(p []byte) (int, error) {
	msg := make([]byte, len(p))
	copy(msg, p)
	if w.tx.Send(msg) {
		metrics.AddOutbound(len(msg))
	}
	return len(p), nil
}

// Flush is a no-op; delivery is the forwarding loop's job.
func (w *Writer) Flush() error { return nil }

// Close is a no-op. The queue stays open until its owner releases it.
func (w *Writer) Close() error { return nil }
