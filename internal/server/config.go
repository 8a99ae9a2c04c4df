// Package server provides configuration helpers that define runtime defaults,
// validation, YAML loading and environment overrides for the relay service.
package server

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/gochat-relay/internal/codec"
	"github.com/Tyrowin/gochat-relay/internal/history"
	"github.com/Tyrowin/gochat-relay/internal/hub"
	"github.com/Tyrowin/gochat-relay/internal/relay"
)

// Default values for the relay configuration.
const (
	DefaultTCPAddr          = "127.0.0.1:8080"
	DefaultHTTPAddr         = ":8081"
	DefaultMaxMessageSize   = codec.DefaultMaxRecord
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultIdleTimeout      = 5 * time.Minute
	DefaultWriteTimeout     = 10 * time.Second
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// HistoryConfig sizes the replay buffer.
type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// HubConfig sizes per-subscriber queues.
type HubConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// TimeoutConfig bounds each phase of a connection. Zero disables a deadline.
type TimeoutConfig struct {
	Handshake time.Duration `yaml:"handshake"`
	Idle      time.Duration `yaml:"idle"`
	Write     time.Duration `yaml:"write"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
	// Format is one of: json | text.
	Format string `yaml:"format"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	TCPAddr        string          `yaml:"tcp_addr"`
	HTTPAddr       string          `yaml:"http_addr"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	MaxMessageSize int64           `yaml:"max_message_size"`
	History        HistoryConfig   `yaml:"history"`
	Hub            HubConfig       `yaml:"hub"`
	Timeouts       TimeoutConfig   `yaml:"timeouts"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Log            LogConfig       `yaml:"log"`
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		TCPAddr:  DefaultTCPAddr,
		HTTPAddr: DefaultHTTPAddr,
		AllowedOrigins: []string{
			"http://localhost:8081",
		},
		MaxMessageSize: DefaultMaxMessageSize,
		History:        HistoryConfig{Capacity: history.DefaultCapacity},
		Hub:            HubConfig{QueueSize: hub.DefaultQueueSize},
		Timeouts: TimeoutConfig{
			Handshake: DefaultHandshakeTimeout,
			Idle:      DefaultIdleTimeout,
			Write:     DefaultWriteTimeout,
		},
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.TCPAddr == "" {
		cfg.TCPAddr = DefaultTCPAddr
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}

	if cfg.History.Capacity <= 0 {
		cfg.History.Capacity = history.DefaultCapacity
	}

	if cfg.Hub.QueueSize <= 0 {
		cfg.Hub.QueueSize = hub.DefaultQueueSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 5
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		sanitizeConfig(defaultConfig())
		return
	}

	sanitized := *cfg
	sanitized.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// CurrentConfig returns a copy of the active configuration.
func CurrentConfig() Config {
	return currentConfig()
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	return &cfg
}

// LoadConfig reads the YAML file at path on top of the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// validate checks structural constraints on a loaded configuration.
func validate(cfg *Config) error {
	if cfg.TCPAddr == "" {
		return fmt.Errorf("tcp_addr must not be empty")
	}
	if cfg.HTTPAddr == "" {
		return fmt.Errorf("http_addr must not be empty")
	}
	if cfg.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size %d must be positive", cfg.MaxMessageSize)
	}
	if cfg.History.Capacity <= 0 {
		return fmt.Errorf("history.capacity %d must be positive", cfg.History.Capacity)
	}
	if cfg.Hub.QueueSize <= 0 {
		return fmt.Errorf("hub.queue_size %d must be positive", cfg.Hub.QueueSize)
	}
	if cfg.Timeouts.Handshake < 0 || cfg.Timeouts.Idle < 0 || cfg.Timeouts.Write < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit.burst %d must not be negative", cfg.RateLimit.Burst)
	}
	if cfg.RateLimit.RefillInterval < 0 {
		return fmt.Errorf("rate_limit.refill_interval must not be negative")
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		return err
	}
	switch cfg.Log.Format {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format %q unknown: want json|text", cfg.Log.Format)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if addr := os.Getenv("TCP_ADDR"); addr != "" {
		cfg.TCPAddr = addr
	}

	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	if capacity := os.Getenv("HISTORY_CAPACITY"); capacity != "" {
		cfg.History.Capacity = parseIntValue(capacity, cfg.History.Capacity)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

// RelayOptions maps the configuration onto per-session relay options.
func (c Config) RelayOptions() relay.Options {
	return relay.Options{
		HandshakeTimeout: c.Timeouts.Handshake,
		IdleTimeout:      c.Timeouts.Idle,
		WriteTimeout:     c.Timeouts.Write,
		MaxRecordSize:    int(c.MaxMessageSize),
		RateLimit: relay.RateLimit{
			Burst:          c.RateLimit.Burst,
			RefillInterval: c.RateLimit.RefillInterval,
		},
	}
}

// SlogLevel returns the configured log level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	level, err := parseLevel(l.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q unknown: want debug|info|warn|error", s)
	}
	return level, nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval accepts a Go duration ("500ms") or whole seconds ("2").
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
