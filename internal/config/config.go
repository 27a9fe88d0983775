package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

const (
	DefaultListen      = "127.0.0.1:9257"
	DefaultPath        = "/lsp"
	DefaultMaxSessions = 64
	DefaultReadLimit   = 32 << 20
	DefaultMaxBody     = 32 << 20

	// HealthPath is always served by the bridge and cannot be reassigned.
	HealthPath = "/healthz"
)

type Config struct {
	Server  Server  `yaml:"server"`
	Metrics Metrics `yaml:"metrics"`
	Logging Logging `yaml:"logging"`
	Queues  Queues  `yaml:"queues"`
	Frame   Frame   `yaml:"frame"`
}

// Server configures the WebSocket bridge.
type Server struct {
	Listen         string   `yaml:"listen"`
	Path           string   `yaml:"path"`
	MaxSessions    int      `yaml:"max_sessions"`
	ReadLimit      int64    `yaml:"read_limit"`      // max size of one WebSocket message
	OriginPatterns []string `yaml:"origin_patterns"` // allowed browser origins, host patterns
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Logging struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // console | json
	Timestamp bool   `yaml:"timestamp"`
}

// Queues holds optional bounds for the session queues. Zero means unbounded,
// which is the default for all of them.
type Queues struct {
	InboundLimit    int `yaml:"inbound_limit"`
	OutboundLimit   int `yaml:"outbound_limit"`
	CommandLimit    int `yaml:"command_limit"`
	DiagnosticLimit int `yaml:"diagnostic_limit"`
}

type Frame struct {
	MaxBody int `yaml:"max_body"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Metrics: Metrics{Enabled: true}}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Metrics: Metrics{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultPath
	}
	if c.Server.MaxSessions == 0 {
		c.Server.MaxSessions = DefaultMaxSessions
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = DefaultReadLimit
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Frame.MaxBody == 0 {
		c.Frame.MaxBody = DefaultMaxBody
	}
}

func (c *Config) validate() error {
	var allErrors []error

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		allErrors = append(allErrors, fmt.Errorf("server.listen: %w", err))
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		allErrors = append(allErrors, fmt.Errorf("server.path must start with '/'"))
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		allErrors = append(allErrors, fmt.Errorf("metrics.path must start with '/'"))
	}
	if c.Metrics.Enabled && c.Metrics.Path == c.Server.Path {
		allErrors = append(allErrors, fmt.Errorf("metrics.path collides with server.path"))
	}
	if c.Server.Path == HealthPath {
		allErrors = append(allErrors, fmt.Errorf("server.path %s is reserved for health checks", HealthPath))
	}
	if c.Metrics.Enabled && c.Metrics.Path == HealthPath {
		allErrors = append(allErrors, fmt.Errorf("metrics.path %s is reserved for health checks", HealthPath))
	}
	if c.Server.MaxSessions < 0 {
		allErrors = append(allErrors, fmt.Errorf("server.max_sessions must be >= 0"))
	}
	if c.Server.ReadLimit < 0 {
		allErrors = append(allErrors, fmt.Errorf("server.read_limit must be >= 0"))
	}
	if !validLevel(c.Logging.Level) {
		allErrors = append(allErrors, fmt.Errorf("logging.level %q is not recognised", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		allErrors = append(allErrors, fmt.Errorf("logging.format must be 'console' or 'json'"))
	}
	for _, q := range []struct {
		name  string
		limit int
	}{
		{"queues.inbound_limit", c.Queues.InboundLimit},
		{"queues.outbound_limit", c.Queues.OutboundLimit},
		{"queues.command_limit", c.Queues.CommandLimit},
		{"queues.diagnostic_limit", c.Queues.DiagnosticLimit},
	} {
		if q.limit < 0 {
			allErrors = append(allErrors, fmt.Errorf("%s must be >= 0 (0 = unbounded)", q.name))
		}
	}
	if c.Frame.MaxBody < 0 {
		allErrors = append(allErrors, fmt.Errorf("frame.max_body must be >= 0"))
	}

	return writeErr(allErrors)
}

func validLevel(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace", "debug", "info", "warn", "warning", "error", "disabled", "off", "none":
		return true
	}
	return false
}

func writeErr(allErrors []error) error {
	if len(allErrors) == 0 {
		return nil
	}
	messages := make([]string, 0, len(allErrors))
	for _, err := range allErrors {
		messages = append(messages, err.Error())
	}
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(messages, "\n  - "))
}
