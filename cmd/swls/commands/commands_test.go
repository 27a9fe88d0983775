package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SemanticWebLanguageServer/swls-web/internal/lsp/frame"
	"github.com/SemanticWebLanguageServer/swls-web/internal/lsp/jsonrpc"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		configPath, logLevel, logFile, listenAddr = "", "", "", ""
	})
}

func TestStdioSession(t *testing.T) {
	resetFlags(t)
	logLevel = "disabled"

	var in bytes.Buffer
	for _, m := range []string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"textDocument/didOpen","params":{"textDocument":{"uri":"file:///s.ttl","languageId":"turtle","version":1,"text":"<a> <b> <c> ."}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"swls/documents"}`,
	} {
		in.Write(frame.Encode([]byte(m)))
	}
	var out bytes.Buffer
	require.NoError(t, runStdio(context.Background(), &in, &out))

	r := frame.NewReader(&out)
	var results = map[string]jsonrpc.Message{}
	for {
		payload, err := r.ReadMessage()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		var m jsonrpc.Message
		require.NoError(t, json.Unmarshal(payload, &m))
		key := m.Method
		if key == "" {
			key = string(m.ID)
		}
		results[key] = m
	}
	assert.Contains(t, results, "1")
	assert.Contains(t, results, "textDocument/publishDiagnostics")
	require.Contains(t, results, "2")
	assert.JSONEq(t, `["file:///s.ttl"]`, string(results["2"].Result))
}

func TestStdioLogFile(t *testing.T) {
	resetFlags(t)
	logFile = filepath.Join(t.TempDir(), "swls.log")
	logLevel = "debug"

	var out bytes.Buffer
	require.NoError(t, runStdio(context.Background(), bytes.NewReader(nil), &out))
	assert.Empty(t, out.String())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session started")
}

func TestLoadConfig(t *testing.T) {
	resetFlags(t)
	path := filepath.Join(t.TempDir(), "swls.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\nqueues:\n  command_limit: 8\n"), 0o600))
	configPath = path
	logLevel = "error"

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level, "flag overrides file")
	assert.Equal(t, 8, cfg.Queues.CommandLimit)

	configPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = loadConfig()
	assert.Error(t, err)
}

func TestServeConfigListenOverride(t *testing.T) {
	resetFlags(t)
	listenAddr = "127.0.0.1:0"
	cfg, reloader, err := serveConfig()
	require.NoError(t, err)
	assert.Nil(t, reloader)
	assert.Equal(t, "127.0.0.1:0", cfg.Server.Listen)
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc", "today")
	t.Cleanup(func() { SetVersionInfo("dev", "unknown", "unknown") })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, Execute())
	assert.Contains(t, out.String(), "swls 1.2.3")
	assert.Contains(t, out.String(), "commit: abc")
}
