// Package frame implements the language server base protocol framing:
// a header block terminated by an empty line, then Content-Length bytes of
// payload.
package frame

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DefaultMaxBody caps a single payload.
const DefaultMaxBody = 32 << 20

const headerLength = "content-length"

var (
	ErrMissingLength = errors.New("frame: header without Content-Length")
	ErrTooLarge      = errors.New("frame: body exceeds limit")
)

var headerSep = []byte("\r\n\r\n")

// Encode returns payload with its header prepended. The length is the byte
// length of payload.
func Encode(payload []byte) []byte {
	hdr := "Content-Length: " + strconv.Itoa(len(payload)) + "\r\n\r\n"
	out := make([]byte, 0, len(hdr)+len(payload))
	out = append(out, hdr...)
	return append(out, payload...)
}

// Write emits one frame with a single Write call.
func Write(w io.Writer, payload []byte) error {
	_, err := w.Write(Encode(payload))
	return err
}

// parseHeader returns the Content-Length from a header block without the
// trailing empty line. Unknown headers are ignored.
func parseHeader(block string, maxBody int) (int, error) {
	length := -1
	for _, line := range strings.Split(block, "\r\n") {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return 0, fmt.Errorf("frame: malformed header line %q", line)
		}
		if !strings.EqualFold(strings.TrimSpace(name), headerLength) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("frame: invalid Content-Length %q", strings.TrimSpace(value))
		}
		length = n
	}
	if length < 0 {
		return 0, ErrMissingLength
	}
	if maxBody > 0 && length > maxBody {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooLarge, length, maxBody)
	}
	return length, nil
}

// Reader reads whole payloads from a byte stream.
type Reader struct {
	br      *bufio.Reader
	maxBody int
}

type ReaderOption func(*Reader)

// WithMaxBody overrides DefaultMaxBody. Zero or less disables the limit.
func WithMaxBody(n int) ReaderOption { return func(r *Reader) { r.maxBody = n } }

func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	fr := &Reader{br: bufio.NewReader(r), maxBody: DefaultMaxBody}
	for _, opt := range opts {
		opt(fr)
	}
	return fr
}

// ReadMessage returns the next payload. io.EOF means the stream ended
// cleanly between frames; io.ErrUnexpectedEOF means it ended inside one.
func (r *Reader) ReadMessage() ([]byte, error) {
	var hdr strings.Builder
	for first := true; ; first = false {
		line, err := r.br.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				if first && line == "" {
					return nil, io.EOF
				}
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if line == "\r\n" || line == "\n" {
			break
		}
		hdr.WriteString(strings.TrimRight(line, "\r\n"))
		hdr.WriteString("\r\n")
	}

	n, err := parseHeader(hdr.String(), r.maxBody)
	if err != nil {
		return nil, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r.br, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// Splitter is the incremental counterpart of Reader for callers that receive
// the stream as discrete chunks.
type Splitter struct {
	buf     []byte
	maxBody int
}

func NewSplitter(maxBody int) *Splitter { return &Splitter{maxBody: maxBody} }

// Push appends chunk and returns every payload completed by it. Incomplete
// input stays buffered. On a header error the buffer is discarded.
func (s *Splitter) Push(chunk []byte) ([][]byte, error) {
	s.buf = append(s.buf, chunk...)
	var out [][]byte
	for {
		end := bytes.Index(s.buf, headerSep)
		if end < 0 {
			return out, nil
		}
		n, err := parseHeader(string(s.buf[:end]), s.maxBody)
		if err != nil {
			s.buf = nil
			return out, err
		}
		start := end + len(headerSep)
		if len(s.buf)-start < n {
			return out, nil
		}
		payload := make([]byte, n)
		copy(payload, s.buf[start:start+n])
		out = append(out, payload)
		s.buf = s.buf[start+n:]
		if len(s.buf) == 0 {
			s.buf = nil
		}
	}
}

// Buffered reports how many bytes wait for the rest of their frame.
func (s *Splitter) Buffered() int { return len(s.buf) }
