package chanio

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/SemanticWebLanguageServer/swls-web/internal/queue"
)

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32*1024)
		return &b
	},
}

// Pump reads src until EOF and hands every successful read to send as a
// fresh chunk. It returns the number of bytes pumped; io.EOF is not an error.
func Pump(src io.Reader, send func([]byte)) (int64, error) {
	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)
	buf := *bufp

	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			send(chunk)
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// Forward delivers every message from rx to post in enqueue order, one at a
// time. Errors from post are not reported anywhere; the message is simply
// gone. Forward returns nil when the queue closes and ctx.Err() when
// cancelled.
func Forward(ctx context.Context, rx *queue.Receiver[[]byte], post func([]byte) error) error {
	for {
		msg, err := rx.Recv(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		_ = post(msg)
	}
}
