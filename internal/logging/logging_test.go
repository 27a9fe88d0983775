package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SemanticWebLanguageServer/swls-web/internal/config"
)

type captured struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captured) sink(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *captured) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func swapFallback(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := fallback
	fallback = &buf
	t.Cleanup(func() { fallback = prev })
	return &buf
}

func TestSinkWriterForwardsValidText(t *testing.T) {
	c := &captured{}
	SetSink(c.sink)
	defer ResetSink()

	n, err := SinkWriter{}.Write([]byte("hello sink\n"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, []string{"hello sink\n"}, c.all())
}

func TestSinkWriterDropsInvalidUTF8(t *testing.T) {
	buf := swapFallback(t)
	c := &captured{}
	SetSink(c.sink)
	defer ResetSink()

	bad := []byte{0xff, 0xfe, 'x'}
	n, err := SinkWriter{}.Write(bad)
	require.NoError(t, err)
	assert.Equal(t, len(bad), n, "dropped writes still report full length")
	assert.Empty(t, c.all())
	assert.Contains(t, buf.String(), "invalid string logged")
}

func TestResetSinkUsesFallback(t *testing.T) {
	buf := swapFallback(t)
	SetSink(func(string) { t.Fatal("reset sink must not be called") })
	ResetSink()

	SinkWriter{}.Write([]byte("to stderr"))
	assert.Equal(t, "to stderr", buf.String())
}

func TestNewWritesThroughSink(t *testing.T) {
	c := &captured{}
	SetSink(c.sink)
	defer ResetSink()
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	log := New(config.Logging{Level: "info", Format: "json"})
	log.Debug().Msg("hidden")
	log.Info().Str("component", "test").Msg("visible")

	msgs := c.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], `"component":"test"`)
	assert.Contains(t, msgs[0], `"message":"visible"`)

	SetLevel("debug")
	log.Debug().Msg("now visible")
	assert.Len(t, c.all(), 2)
}

func TestNewConsoleFormat(t *testing.T) {
	c := &captured{}
	SetSink(c.sink)
	defer ResetSink()
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	log := New(config.Logging{Level: "debug", Format: "console"})
	log.Warn().Msg("careful")

	msgs := c.all()
	require.Len(t, msgs, 1)
	assert.True(t, strings.Contains(msgs[0], "WRN"), msgs[0])
	assert.Contains(t, msgs[0], "careful")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
		ok   bool
	}{
		{"trace", zerolog.TraceLevel, true},
		{" Debug ", zerolog.DebugLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"", zerolog.InfoLevel, false},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}
