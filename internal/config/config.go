// Package config defines watcher configuration structures and loading hooks.
//
// Conventions:
// - New returns a Config populated with defaults; Load layers file and env on top.
// - Validate reports every problem as ErrInvalidConfig so startup can fail fast.
// - Conversions to domain types live here so callers never see raw YAML shapes.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/okian/telewatch/internal/adapters/m2x"
	"github.com/okian/telewatch/internal/domain/classify"
)

// Sink types.
const (
	SinkLog    = "log"
	SinkNATS   = "nats"
	SinkStream = "stream"
)

// Watermark backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the ops HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// PollInterval is the tick period of every stream poller.
	PollInterval time.Duration `koanf:"poll_interval"`

	// FetchTimeout bounds a single fetch. Zero means PollInterval.
	FetchTimeout time.Duration `koanf:"fetch_timeout"`

	// Lookback is how far back the first window of a new stream reaches.
	Lookback time.Duration `koanf:"lookback"`

	// EventQueueSize bounds the in-memory queue of undelivered events.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of dispatch workers.
	WorkerCount int `koanf:"worker_count"`

	// DeliveryTimeout bounds a single sink call.
	DeliveryTimeout time.Duration `koanf:"delivery_timeout"`

	// ShutdownTimeout bounds how long shutdown waits for queued events.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// HistorySize is the number of recent events served by /events.
	HistorySize int `koanf:"history_size"`

	M2X       M2XConfig       `koanf:"m2x"`
	Streams   []StreamConfig  `koanf:"streams"`
	Sink      SinkConfig      `koanf:"sink"`
	Watermark WatermarkConfig `koanf:"watermark"`
}

// M2XConfig locates the telemetry API and the device to watch.
type M2XConfig struct {
	BaseURL  string        `koanf:"base_url"`
	APIKey   string        `koanf:"api_key"`
	DeviceID string        `koanf:"device_id"`
	Timeout  time.Duration `koanf:"timeout"`
}

// StreamConfig is one polled stream and its rules.
type StreamConfig struct {
	ID    string       `koanf:"id"`
	Rules []RuleConfig `koanf:"rules"`
}

// RuleConfig mirrors classify.Config. An omitted cooldown means
// classify.DefaultCooldown while an explicit zero disables it. An omitted
// movement window means classify.DefaultMovementWindow.
type RuleConfig struct {
	Kind      string         `koanf:"kind"`
	Rule      string         `koanf:"rule"`
	Match     string         `koanf:"match"`
	Threshold float64        `koanf:"threshold"`
	Cooldown  *time.Duration `koanf:"cooldown"`
	Window    int            `koanf:"window"`
	Bands     []float64      `koanf:"bands"`
}

// SinkConfig selects where events go.
type SinkConfig struct {
	// Types lists enabled sinks; events fan out to all of them.
	Types []string `koanf:"types"`

	NATS NATSConfig `koanf:"nats"`

	// StreamTargets maps event kinds to the streams they are written back to.
	StreamTargets map[string]string `koanf:"stream_targets"`
}

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	ClientName    string `koanf:"client_name"`
}

// WatermarkConfig selects the high-water-mark store.
type WatermarkConfig struct {
	Backend string      `koanf:"backend"`
	Redis   RedisConfig `koanf:"redis"`
}

// RedisConfig configures the Redis watermark store.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// New creates a Config with defaults watching the three streams of the
// wearable prototype: the fall flag, acceleration and muscle activity.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            ":9080",
		PollInterval:    5 * time.Second,
		Lookback:        5 * time.Second,
		EventQueueSize:  1024,
		WorkerCount:     2,
		DeliveryTimeout: 5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		HistorySize:     256,
		M2X: M2XConfig{
			BaseURL: m2x.DefaultBaseURL,
			Timeout: 30 * time.Second,
		},
		Streams: []StreamConfig{
			{ID: "hasFallen", Rules: []RuleConfig{{Kind: "fall", Rule: string(classify.RuleEquals), Match: "fall"}}},
			{ID: "patientMove", Rules: []RuleConfig{{Kind: "movement", Rule: string(classify.RuleMovement), Threshold: 0.02, Window: classify.DefaultMovementWindow}}},
			{ID: "patientState", Rules: []RuleConfig{{Kind: "activity", Rule: string(classify.RuleLevel), Bands: []float64{10, 70}}}},
		},
		Sink: SinkConfig{
			Types: []string{SinkLog},
			NATS: NATSConfig{
				URL:           "nats://127.0.0.1:4222",
				SubjectPrefix: "telewatch.events",
				ClientName:    "telewatch",
			},
		},
		Watermark: WatermarkConfig{
			Backend: BackendMemory,
			Redis: RedisConfig{
				Addr:      "127.0.0.1:6379",
				KeyPrefix: "telewatch",
			},
		},
	}
}

// Validate checks the configuration for values the watcher cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive, got %s", ErrInvalidConfig, c.PollInterval)
	}
	if c.FetchTimeout < 0 || c.Lookback < 0 {
		return fmt.Errorf("%w: fetch_timeout and lookback must not be negative", ErrInvalidConfig)
	}
	if c.EventQueueSize <= 0 || c.WorkerCount <= 0 {
		return fmt.Errorf("%w: queue_size and worker_count must be positive", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.M2X.BaseURL) == "" {
		return fmt.Errorf("%w: m2x.base_url must not be empty", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.M2X.DeviceID) == "" {
		return fmt.Errorf("%w: m2x.device_id must not be empty", ErrInvalidConfig)
	}
	if len(c.Streams) == 0 {
		return fmt.Errorf("%w: no streams configured", ErrInvalidConfig)
	}
	for _, s := range c.Streams {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("%w: stream id must not be empty", ErrInvalidConfig)
		}
		if len(s.Rules) == 0 {
			return fmt.Errorf("%w: stream %s has no rules", ErrInvalidConfig, s.ID)
		}
		for _, r := range s.Rules {
			if err := r.Classifier().Validate(); err != nil {
				return fmt.Errorf("stream %s: %w", s.ID, err)
			}
		}
	}
	if len(c.Sink.Types) == 0 {
		return fmt.Errorf("%w: at least one sink type is required", ErrInvalidConfig)
	}
	for _, t := range c.Sink.Types {
		switch t {
		case SinkLog:
		case SinkNATS:
			if c.Sink.NATS.URL == "" {
				return fmt.Errorf("%w: sink.nats.url must not be empty", ErrInvalidConfig)
			}
		case SinkStream:
			if len(c.Sink.StreamTargets) == 0 {
				return fmt.Errorf("%w: sink.stream_targets must not be empty", ErrInvalidConfig)
			}
		default:
			return fmt.Errorf("%w: unknown sink type %q", ErrInvalidConfig, t)
		}
	}
	switch c.Watermark.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Watermark.Redis.Addr == "" {
			return fmt.Errorf("%w: watermark.redis.addr must not be empty", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown watermark backend %q", ErrInvalidConfig, c.Watermark.Backend)
	}
	return nil
}

// HasSink reports whether sink type t is enabled.
func (c *Config) HasSink(t string) bool {
	return slices.Contains(c.Sink.Types, t)
}

// Classifier converts r into a classifier configuration, filling defaults.
func (r RuleConfig) Classifier() classify.Config {
	cfg := classify.Config{
		Kind:      r.Kind,
		Rule:      classify.RuleKind(strings.ToLower(strings.TrimSpace(r.Rule))),
		Match:     r.Match,
		Threshold: r.Threshold,
		Cooldown:  classify.DefaultCooldown,
		Window:    r.Window,
		Bands:     r.Bands,
	}
	if r.Cooldown != nil {
		cfg.Cooldown = *r.Cooldown
	}
	if cfg.Rule == classify.RuleMovement && cfg.Window == 0 {
		cfg.Window = classify.DefaultMovementWindow
	}
	return cfg
}
