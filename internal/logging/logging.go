// Package logging owns the process-wide log sink and builds the zerolog
// loggers handed to every component.
//
// The sink is the only global in swls-web: hosts embedding the server may
// redirect log text (for example to a debug callback) through SetSink.
// Components never reach for the global logger; they receive a
// zerolog.Logger at construction.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/SemanticWebLanguageServer/swls-web/internal/config"
	"github.com/SemanticWebLanguageServer/swls-web/internal/metrics"
)

// Sink receives one formatted log record per call.
type Sink func(msg string)

var (
	sinkMu   sync.RWMutex
	sink     Sink
	fallback io.Writer = os.Stderr
)

// SetSink installs fn as the process-wide sink. A nil fn restores the
// default, which writes to stderr.
func SetSink(fn Sink) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = fn
}

// ResetSink restores the default sink.
func ResetSink() { SetSink(nil) }

func emit(msg string) {
	sinkMu.RLock()
	fn := sink
	sinkMu.RUnlock()
	if fn == nil {
		io.WriteString(fallback, msg)
		return
	}
	fn(msg)
}

// SinkWriter adapts the current sink to io.Writer. Writes that are not valid
// UTF-8 are reported on stderr and dropped; they never reach the sink.
type SinkWriter struct{}

func (SinkWriter) Write(p []byte) (int, error) {
	if !utf8.Valid(p) {
		metrics.IncLogDropped()
		fmt.Fprintf(fallback, "invalid string logged: %d bytes dropped\n", len(p))
		return len(p), nil
	}
	emit(string(p))
	return len(p), nil
}

// New builds a logger writing through SinkWriter and applies cfg.Level as the
// global level.
func New(cfg config.Logging) zerolog.Logger {
	var out io.Writer = SinkWriter{}
	if strings.EqualFold(cfg.Format, "console") {
		cw := zerolog.ConsoleWriter{
			Out:        SinkWriter{},
			NoColor:    true,
			TimeFormat: time.RFC3339,
		}
		if !cfg.Timestamp {
			cw.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		out = cw
	}
	ctx := zerolog.New(out).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	lvl, _ := ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(lvl)
	return ctx.Logger()
}

// Nop returns a logger that discards everything.
func Nop() zerolog.Logger { return zerolog.Nop() }

// SetLevel applies a level to every logger at once. It is how reloaded
// configuration reaches loggers that were already built.
func SetLevel(raw string) {
	if lvl, ok := ParseLevel(raw); ok {
		zerolog.SetGlobalLevel(lvl)
	}
}

// ParseLevel maps a config level to zerolog. Unknown input yields info and
// false.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
