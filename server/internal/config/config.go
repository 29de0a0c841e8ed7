package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultBackend         = "memory"
	DefaultSQLitePath      = "queuefeed.db"
	DefaultRedisURLEnv     = "REDIS_URL"
	DefaultMaxCount        = 30
	DefaultMaxAge          = 10 * time.Minute
	DefaultCleanupInterval = 60 * time.Second
	DefaultKeepalive       = 10 * time.Second
	DefaultStreamBuffer    = 16
)

// Config is the root of config.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Retention RetentionConfig `yaml:"retention"`
	Stream    StreamConfig    `yaml:"stream"`
	Relay     RelayConfig     `yaml:"relay"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`

	// CORSOrigins lists the origins allowed to call the API from a browser.
	// A single "*" allows any origin.
	CORSOrigins []string `yaml:"cors_origins"`
}

// LogConfig controls the process-wide slog level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps Level to a slog.Level. Unknown values fall back to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StoreConfig selects and configures the event store backend.
type StoreConfig struct {
	// Backend is one of: memory | sqlite | redis.
	Backend string `yaml:"backend"`

	// SQLitePath is the database file used when Backend == "sqlite".
	SQLitePath string `yaml:"sqlite_path"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig locates the Redis server used when Backend == "redis".
type RedisConfig struct {
	// URLEnv is the name of the environment variable holding a redis:// URL.
	URLEnv string `yaml:"url_env"`

	// Addr is a host:port used when the URLEnv variable is unset.
	Addr string `yaml:"addr"`
}

// URL returns the Redis URL resolved from the environment, or a URL built
// from Addr when the variable is empty.
func (r RedisConfig) URL() string {
	if r.URLEnv != "" {
		if v := os.Getenv(r.URLEnv); v != "" {
			return v
		}
	}
	if r.Addr != "" {
		return "redis://" + r.Addr
	}
	return ""
}

// RetentionConfig bounds the event store.
type RetentionConfig struct {
	// MaxCount is the number of records kept after a sweep.
	MaxCount int `yaml:"max_count"`

	// MaxAge is the age past which the oldest record, with the store under
	// MaxCount, triggers a full flush.
	MaxAge time.Duration `yaml:"max_age"`

	// CleanupInterval is the sweep period.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// StreamConfig controls the live subscription endpoints.
type StreamConfig struct {
	// Keepalive is the period between keepalive events. Keep it below the
	// idle timeout of any proxy in front of the server.
	Keepalive time.Duration `yaml:"keepalive"`

	// Buffer is the per-subscriber event queue depth. A subscriber whose
	// queue fills up is disconnected.
	Buffer int `yaml:"buffer"`
}

// RelayConfig lists outbound webhook targets that receive every accepted record.
type RelayConfig struct {
	Targets []TargetConfig `yaml:"targets"`
}

// TargetConfig defines one outbound webhook target.
type TargetConfig struct {
	// Type is one of: discord | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the target URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the target URL resolved from the environment.
func (t TargetConfig) URL() string {
	if t.URLEnv == "" {
		return ""
	}
	return os.Getenv(t.URLEnv)
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:    DefaultHTTPPort,
			CORSOrigins: []string{"*"},
		},
		Log: LogConfig{Level: "info"},
		Store: StoreConfig{
			Backend:    DefaultBackend,
			SQLitePath: DefaultSQLitePath,
			Redis:      RedisConfig{URLEnv: DefaultRedisURLEnv},
		},
		Retention: RetentionConfig{
			MaxCount:        DefaultMaxCount,
			MaxAge:          DefaultMaxAge,
			CleanupInterval: DefaultCleanupInterval,
		},
		Stream: StreamConfig{
			Keepalive: DefaultKeepalive,
			Buffer:    DefaultStreamBuffer,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Store.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("store.backend %q unknown: want memory|sqlite|redis", cfg.Store.Backend)
	}
	if cfg.Store.Backend == "sqlite" && cfg.Store.SQLitePath == "" {
		return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
	}
	if cfg.Retention.MaxCount <= 0 {
		return fmt.Errorf("retention.max_count must be positive")
	}
	if cfg.Retention.MaxAge <= 0 {
		return fmt.Errorf("retention.max_age must be positive")
	}
	if cfg.Retention.CleanupInterval < time.Second {
		return fmt.Errorf("retention.cleanup_interval must be at least 1s")
	}
	if cfg.Stream.Keepalive < time.Second || cfg.Stream.Keepalive > 30*time.Second {
		return fmt.Errorf("stream.keepalive %v is out of range [1s, 30s]", cfg.Stream.Keepalive)
	}
	if cfg.Stream.Buffer <= 0 {
		return fmt.Errorf("stream.buffer must be positive")
	}
	for i, t := range cfg.Relay.Targets {
		switch t.Type {
		case "discord", "slack", "http":
		default:
			return fmt.Errorf("relay.targets[%d].type %q unknown: want discord|slack|http", i, t.Type)
		}
	}
	return nil
}
