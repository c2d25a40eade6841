// Package config loads hub configuration from environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds hub configuration populated from environment variables.
type Config struct {
	// Core
	ServerEnv  string // "development" or "production"
	ServerPort int

	// Valkey — internal pub/sub event bus, not persistence.
	ValkeyURL string

	// Identity
	SecretKey   []byte // raw bytes decoded from SECRET_KEY (hex)
	CertTTL     time.Duration
	CertSweepInterval time.Duration

	// Connection lifecycle
	MaxConnections      int
	HeartbeatInterval   time.Duration
	AgentTimeout        time.Duration
	PingTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxMessageSizeBytes int

	// Threaded channel mod
	Channels               []string
	MaxFileSizeBytes       int
	ChannelHistoryCapacity int
	MaxThreadDepth         int

	// Search (expansion, optional)
	TypesenseURL    string
	TypesenseAPIKey string
	SearchEnabled   bool

	// Rate limiting (ambient, teacher-style)
	RateLimitRequests      int
	RateLimitWindowSeconds int
}

// Load reads configuration from environment variables, applying defaults for anything unset. It returns an
// aggregate error if any variable is set but unparsable, or a required value is missing.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		ServerEnv:  envStr("SERVER_ENV", "production"),
		ServerPort: p.int("SERVER_PORT", 8080),

		ValkeyURL: envStr("VALKEY_URL", "valkey://valkey:6379/0"),

		CertTTL:           p.duration("CERT_TTL", 24*time.Hour),
		CertSweepInterval: p.duration("CERT_SWEEP_INTERVAL", 10*time.Minute),

		MaxConnections:      p.int("MAX_CONNECTIONS", 1000),
		HeartbeatInterval:   p.duration("HEARTBEAT_INTERVAL", 30*time.Second),
		AgentTimeout:        p.duration("AGENT_TIMEOUT", 90*time.Second),
		PingTimeout:         p.duration("PING_TIMEOUT", 5*time.Second),
		WriteTimeout:        p.duration("WRITE_TIMEOUT", 10*time.Second),
		MaxMessageSizeBytes: p.int("MAX_MESSAGE_SIZE_BYTES", 104_857_600),

		Channels:               splitList(envStr("CHANNELS", "general")),
		MaxFileSizeBytes:       p.int("MAX_FILE_SIZE_BYTES", 10_485_760),
		ChannelHistoryCapacity: p.int("CHANNEL_HISTORY_CAPACITY", 2000),
		MaxThreadDepth:         p.int("MAX_THREAD_DEPTH", 5),

		TypesenseURL:    envStr("TYPESENSE_URL", ""),
		TypesenseAPIKey: envStr("TYPESENSE_API_KEY", ""),

		RateLimitRequests:      p.int("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindowSeconds: p.int("RATE_LIMIT_WINDOW_SECONDS", 60),
	}
	cfg.SearchEnabled = cfg.TypesenseURL != ""

	if rawKey := envStr("SECRET_KEY", ""); rawKey != "" {
		key, err := hex.DecodeString(rawKey)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("SECRET_KEY must be hex-encoded: %w", err))
		} else {
			cfg.SecretKey = key
		}
	}

	if parseErr := errors.Join(p.errs...); parseErr != nil {
		return nil, parseErr
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.ServerEnv == "development"
}

func (c *Config) validate() error {
	var errs []error

	if len(c.SecretKey) == 0 {
		errs = append(errs, fmt.Errorf("SECRET_KEY is required"))
	} else if len(c.SecretKey) < 16 {
		errs = append(errs, fmt.Errorf("SECRET_KEY must decode to at least 16 bytes"))
	}

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT must be between 1 and 65535"))
	}

	if c.MaxConnections < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONNECTIONS must be at least 1"))
	}
	if c.MaxMessageSizeBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_MESSAGE_SIZE_BYTES must be at least 1"))
	}
	if c.MaxFileSizeBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_FILE_SIZE_BYTES must be at least 1"))
	}
	if c.ChannelHistoryCapacity < 1 {
		errs = append(errs, fmt.Errorf("CHANNEL_HISTORY_CAPACITY must be at least 1"))
	}
	if c.MaxThreadDepth < 1 {
		errs = append(errs, fmt.Errorf("MAX_THREAD_DEPTH must be at least 1"))
	}
	if len(c.Channels) == 0 {
		errs = append(errs, fmt.Errorf("CHANNELS must list at least one channel"))
	}

	if c.HeartbeatInterval < time.Second {
		errs = append(errs, fmt.Errorf("HEARTBEAT_INTERVAL must be at least 1s"))
	}
	if c.AgentTimeout <= c.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("AGENT_TIMEOUT (%s) must exceed HEARTBEAT_INTERVAL (%s)", c.AgentTimeout, c.HeartbeatInterval))
	}
	if c.PingTimeout < time.Second {
		errs = append(errs, fmt.Errorf("PING_TIMEOUT must be at least 1s"))
	}
	if c.WriteTimeout < time.Second {
		errs = append(errs, fmt.Errorf("WRITE_TIMEOUT must be at least 1s"))
	}
	if c.CertTTL < time.Minute {
		errs = append(errs, fmt.Errorf("CERT_TTL must be at least 1m"))
	}

	if c.RateLimitRequests < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1"))
	}
	if c.RateLimitWindowSeconds < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be at least 1"))
	}

	return errors.Join(errs...)
}

// parser collects parse errors so Load can report all invalid values at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected duration like \"30s\")", key, v))
		return fallback
	}
	return d
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
