package server

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// overwrite rewrites path in place without truncating, so the watcher never
// observes an empty file. content must be at least as long as the old body.
func overwrite(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.TCPAddr != DefaultTCPAddr {
		t.Errorf("TCPAddr = %q, want %q", cfg.TCPAddr, DefaultTCPAddr)
	}
	if cfg.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.MaxMessageSize != 4096 {
		t.Errorf("MaxMessageSize = %d, want 4096", cfg.MaxMessageSize)
	}
	if cfg.History.Capacity != 100 {
		t.Errorf("History.Capacity = %d, want 100", cfg.History.Capacity)
	}
	if cfg.Hub.QueueSize != 64 {
		t.Errorf("Hub.QueueSize = %d, want 64", cfg.Hub.QueueSize)
	}
	if cfg.RateLimit.Burst != 5 || cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("RateLimit = %+v, want 5 per 1s", cfg.RateLimit)
	}
	if cfg.Timeouts.Idle != 5*time.Minute {
		t.Errorf("Timeouts.Idle = %v, want 5m", cfg.Timeouts.Idle)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, `
tcp_addr: "127.0.0.1:9000"
http_addr: ":9001"
allowed_origins: ["https://chat.example.com"]
max_message_size: 1024
history:
  capacity: 10
hub:
  queue_size: 8
timeouts:
  handshake: 2s
  idle: 90s
  write: 500ms
rate_limit:
  burst: 3
  refill_interval: 2s
log:
  level: debug
  format: text
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.TCPAddr != "127.0.0.1:9000" || cfg.HTTPAddr != ":9001" {
		t.Errorf("addrs = %q, %q", cfg.TCPAddr, cfg.HTTPAddr)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://chat.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.History.Capacity != 10 || cfg.Hub.QueueSize != 8 {
		t.Errorf("history/hub = %d/%d", cfg.History.Capacity, cfg.Hub.QueueSize)
	}
	want := TimeoutConfig{Handshake: 2 * time.Second, Idle: 90 * time.Second, Write: 500 * time.Millisecond}
	if cfg.Timeouts != want {
		t.Errorf("Timeouts = %+v, want %+v", cfg.Timeouts, want)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}

	opts := cfg.RelayOptions()
	if opts.MaxRecordSize != 1024 || opts.RateLimit.Burst != 3 || opts.RateLimit.RefillInterval != 2*time.Second {
		t.Errorf("RelayOptions = %+v", opts)
	}
	if opts.HandshakeTimeout != 2*time.Second || opts.WriteTimeout != 500*time.Millisecond {
		t.Errorf("RelayOptions timeouts = %+v", opts)
	}
}

func TestLoadConfigPartialKeepsDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "history:\n  capacity: 7\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.History.Capacity != 7 {
		t.Errorf("History.Capacity = %d, want 7", cfg.History.Capacity)
	}
	if cfg.TCPAddr != DefaultTCPAddr || cfg.Hub.QueueSize != 64 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "tcp_addr: [", "parse yaml"},
		{"negative size", "max_message_size: -1", "max_message_size"},
		{"zero capacity", "history: {capacity: 0}", "history.capacity"},
		{"zero queue", "hub: {queue_size: 0}", "hub.queue_size"},
		{"negative timeout", "timeouts: {idle: -1s}", "timeouts"},
		{"negative burst", "rate_limit: {burst: -2}", "rate_limit.burst"},
		{"unknown level", "log: {level: loud}", "log.level"},
		{"unknown format", "log: {format: xml}", "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file: expected error")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("TCP_ADDR", "0.0.0.0:7000")
	t.Setenv("HTTP_ADDR", ":7001")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RATE_LIMIT_BURST", "9")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "250ms")
	t.Setenv("HISTORY_CAPACITY", "25")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadConfig(writeConfig(t, "tcp_addr: \"127.0.0.1:1\"\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.TCPAddr != "0.0.0.0:7000" {
		t.Errorf("env should win over file: TCPAddr = %q", cfg.TCPAddr)
	}
	if cfg.HTTPAddr != ":7001" || cfg.MaxMessageSize != 2048 || cfg.History.Capacity != 25 {
		t.Errorf("cfg = %+v", cfg)
	}
	if got := strings.Join(cfg.AllowedOrigins, ","); got != "http://a.test,http://b.test" {
		t.Errorf("AllowedOrigins = %q", got)
	}
	if cfg.RateLimit.Burst != 9 || cfg.RateLimit.RefillInterval != 250*time.Millisecond {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Log.SlogLevel() != slog.LevelWarn {
		t.Errorf("level = %v", cfg.Log.SlogLevel())
	}
}

func TestNewConfigFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "lots")
	t.Setenv("RATE_LIMIT_BURST", "-3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "soon")

	cfg := NewConfigFromEnv()
	if cfg.MaxMessageSize != DefaultMaxMessageSize {
		t.Errorf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 5 || cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
}

func TestParseRefillInterval(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"3", 3 * time.Second},
		{"750ms", 750 * time.Millisecond},
		{"1m", time.Minute},
		{"0", time.Second},
		{"-1s", time.Second},
		{"", time.Second},
	}
	for _, tt := range tests {
		if got := parseRefillInterval(tt.in, time.Second); got != tt.want {
			t.Errorf("parseRefillInterval(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetConfigSanitizes(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	SetConfig(&Config{AllowedOrigins: []string{"HTTP://Example.COM:8081", "not a url", ""}})
	cfg := CurrentConfig()

	if cfg.TCPAddr != DefaultTCPAddr || cfg.MaxMessageSize != DefaultMaxMessageSize {
		t.Errorf("zero values not defaulted: %+v", cfg)
	}
	if cfg.RateLimit.Burst != 5 || cfg.History.Capacity != 100 {
		t.Errorf("zero values not defaulted: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://example.com:8081" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}

	SetConfig(nil)
	if got := CurrentConfig().AllowedOrigins; len(got) != 1 || got[0] != "http://localhost:8081" {
		t.Errorf("reset AllowedOrigins = %v", got)
	}
}

func TestCurrentConfigReturnsCopy(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	cfg := CurrentConfig()
	cfg.AllowedOrigins[0] = "http://mutated.test"
	if CurrentConfig().AllowedOrigins[0] == "http://mutated.test" {
		t.Error("CurrentConfig exposed shared slice")
	}
}

func TestWatchConfigReloads(t *testing.T) {
	path := writeConfig(t, "rate_limit: {burst: 1}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchConfig(ctx, path, func(c *Config) { changes <- c })
	}()

	// Retry the write until the watcher has registered the file.
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		overwrite(t, path, "rate_limit: {burst: 42}\n")
		select {
		case c := <-changes:
			if c.RateLimit.Burst != 42 {
				continue
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("WatchConfig: %v", err)
			}
			return
		case <-ticker.C:
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatchConfigKeepsPreviousOnInvalidFile(t *testing.T) {
	path := writeConfig(t, "log: {level: info}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	go func() { _ = WatchConfig(ctx, path, func(c *Config) { changes <- c }) }()

	time.Sleep(100 * time.Millisecond)
	overwrite(t, path, "log: {format: xml}\n")

	select {
	case c := <-changes:
		t.Fatalf("invalid config applied: %+v", c)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatchConfigMissingFile(t *testing.T) {
	err := WatchConfig(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), func(*Config) {})
	if err == nil {
		t.Error("expected error for missing file")
	}
}
