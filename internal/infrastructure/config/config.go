package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Socket    SocketConfig
	Session   SessionConfig
	Locks     LockConfig
	Terminal  TerminalConfig
	Alerts    AlertConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// StorageConfig holds the file-backed state store configuration.
type StorageConfig struct {
	DataDir     string        `envconfig:"DATA_DIR" default:"./data"`
	LockTimeout time.Duration `envconfig:"STORE_LOCK_TIMEOUT" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds HTTP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// SocketConfig governs every websocket connection uniformly.
type SocketConfig struct {
	// MaxMessageBytes is the frame size ceiling; larger frames are
	// dropped without a reply.
	MaxMessageBytes int64 `envconfig:"WS_MAX_MESSAGE_BYTES" default:"65536"`
	// MessagesPerSecond caps messages per socket over a rolling
	// one-second window; excess is dropped silently.
	MessagesPerSecond int           `envconfig:"WS_MESSAGES_PER_SECOND" default:"100"`
	HeartbeatInterval time.Duration `envconfig:"WS_HEARTBEAT_INTERVAL" default:"30s"`
	// SendQueueSize is the per-client outbound buffer; a client that
	// cannot drain it is treated as dead.
	SendQueueSize int `envconfig:"WS_SEND_QUEUE_SIZE" default:"256"`
}

// SessionConfig holds session registry configuration.
type SessionConfig struct {
	TTL           time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	SweepInterval time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"1h"`
}

// LockConfig holds edit lock configuration.
type LockConfig struct {
	TTL           time.Duration `envconfig:"LOCK_TTL" default:"5m"`
	SweepInterval time.Duration `envconfig:"LOCK_SWEEP_INTERVAL" default:"1m"`
}

// TerminalConfig holds PTY multiplexer configuration.
type TerminalConfig struct {
	Shell       string `envconfig:"TERMINAL_SHELL" default:""`
	BufferBytes int    `envconfig:"TERMINAL_BUFFER_BYTES" default:"262144"`
	MaxPerRoom  int    `envconfig:"TERMINAL_MAX_PER_ROOM" default:"50"`
	DefaultCols int    `envconfig:"TERMINAL_DEFAULT_COLS" default:"80"`
	DefaultRows int    `envconfig:"TERMINAL_DEFAULT_ROWS" default:"24"`
}

// AlertConfig holds the flagged-finding alert log configuration.
type AlertConfig struct {
	MaxPerRoom   int `envconfig:"ALERTS_MAX_PER_ROOM" default:"200"`
	ContextLimit int `envconfig:"ALERTS_CONTEXT_LIMIT" default:"100"`
	TitleLimit   int `envconfig:"ALERTS_TITLE_LIMIT" default:"200"`
	PreviewLimit int `envconfig:"ALERTS_PREVIEW_LIMIT" default:"200"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			DataDir:     "./data",
			LockTimeout: 30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Socket: SocketConfig{
			MaxMessageBytes:   64 * 1024,
			MessagesPerSecond: 100,
			HeartbeatInterval: 30 * time.Second,
			SendQueueSize:     256,
		},
		Session: SessionConfig{
			TTL:           24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Locks: LockConfig{
			TTL:           5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Terminal: TerminalConfig{
			BufferBytes: 256 * 1024,
			MaxPerRoom:  50,
			DefaultCols: 80,
			DefaultRows: 24,
		},
		Alerts: AlertConfig{
			MaxPerRoom:   200,
			ContextLimit: 100,
			TitleLimit:   200,
			PreviewLimit: 200,
		},
	}
}
