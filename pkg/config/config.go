package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full Ledgertap configuration. Durations are carried as
// millisecond integers in YAML, matching the wire conventions of the feed
// and store collaborators.
type Config struct {
	Feed     FeedConfig     `yaml:"feed"`
	Store    StoreConfig    `yaml:"store"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Control  ControlConfig  `yaml:"control"`
}

// FeedConfig configures the chain-feed session.
type FeedConfig struct {
	// Endpoint is the gRPC address of the chain feed.
	Endpoint string `yaml:"endpoint"`
	// APIKey is sent as x-api-key metadata on every session.
	APIKey string `yaml:"api_key"`
	// Insecure disables transport security. Only for local feeds.
	Insecure bool `yaml:"insecure"`
	// DialTimeoutMS bounds connection establishment.
	DialTimeoutMS int64 `yaml:"dial_timeout_ms"`
}

// StoreConfig configures the stream-store sink and the batching writer.
type StoreConfig struct {
	// URL is the stream-store connection URL (redis://...).
	URL string `yaml:"url"`
	// MaxEntries is the approximate per-topic retention cap.
	MaxEntries int64 `yaml:"max_entries"`
	// BatchSize is the number of records committed per append.
	BatchSize int `yaml:"batch_size"`
	// BatchTimeoutMS flushes a partial batch this long after its first record.
	BatchTimeoutMS int64 `yaml:"batch_timeout_ms"`
	// MaxAttempts bounds commit retries before a batch is dropped.
	MaxAttempts int `yaml:"max_attempts"`
	// RetryBackoffMS is the initial commit retry delay; doubles per attempt.
	RetryBackoffMS int64 `yaml:"retry_backoff_ms"`
	// PartitionByInterest additionally appends each record to a
	// "{topic}:{interest_id}" partition.
	PartitionByInterest bool `yaml:"partition_by_interest"`
	// SweepIntervalMS is the cadence of the bookkeeping sweep.
	SweepIntervalMS int64 `yaml:"sweep_interval_ms"`
	// SweepGraceMS is how long committed-record bookkeeping is retained.
	SweepGraceMS int64 `yaml:"sweep_grace_ms"`
}

// PipelineConfig sizes the data path and the reconnection policy.
type PipelineConfig struct {
	// FanInCapacity bounds the channel from workers to the writer.
	FanInCapacity int `yaml:"fanin_capacity"`
	// BusCapacity bounds the live bus history ring.
	BusCapacity int `yaml:"bus_capacity"`
	// Reconnect governs worker reconnection after transient feed errors.
	Reconnect BackoffConfig `yaml:"reconnect"`
}

// BackoffConfig is an exponential backoff policy with jitter.
type BackoffConfig struct {
	InitialDelayMS int64   `yaml:"initial_delay_ms"`
	MaxDelayMS     int64   `yaml:"max_delay_ms"`
	Multiplier     float64 `yaml:"multiplier"`
	// Jitter is the +/- fraction applied to each delay.
	Jitter float64 `yaml:"jitter"`
	// MaxAttempts of zero retries indefinitely.
	MaxAttempts int `yaml:"max_attempts"`
}

// ControlConfig configures the control-plane HTTP surface.
type ControlConfig struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr"`
	// MutationTimeoutMS bounds how long a mutation waits for the
	// supervisor before the client sees Unavailable.
	MutationTimeoutMS int64 `yaml:"mutation_timeout_ms"`
	// DataDir holds the interest database.
	DataDir string `yaml:"data_dir"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Feed: FeedConfig{
			DialTimeoutMS: 30_000,
		},
		Store: StoreConfig{
			URL:            "redis://localhost:6379",
			MaxEntries:     1_000_000,
			BatchSize:      100,
			BatchTimeoutMS: 100,
			MaxAttempts:    5,
			RetryBackoffMS: 50,

			SweepIntervalMS: 5 * 60 * 1000,
			SweepGraceMS:    60 * 60 * 1000,
		},
		Pipeline: PipelineConfig{
			FanInCapacity: 10_000,
			BusCapacity:   10_000,
			Reconnect: BackoffConfig{
				InitialDelayMS: 1_000,
				MaxDelayMS:     60_000,
				Multiplier:     2.0,
				Jitter:         0.1,
				MaxAttempts:    0,
			},
		},
		Control: ControlConfig{
			Addr:              "localhost:8080",
			MutationTimeoutMS: 5_000,
			DataDir:           "/var/lib/ledgertap",
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Feed.Endpoint == "" {
		return fmt.Errorf("feed.endpoint is required")
	}
	if c.Store.URL == "" {
		return fmt.Errorf("store.url is required")
	}
	if c.Store.BatchSize <= 0 {
		return fmt.Errorf("store.batch_size must be positive, got %d", c.Store.BatchSize)
	}
	if c.Store.MaxEntries <= 0 {
		return fmt.Errorf("store.max_entries must be positive, got %d", c.Store.MaxEntries)
	}
	if c.Pipeline.FanInCapacity <= 0 {
		return fmt.Errorf("pipeline.fanin_capacity must be positive, got %d", c.Pipeline.FanInCapacity)
	}
	if c.Pipeline.BusCapacity <= 0 {
		return fmt.Errorf("pipeline.bus_capacity must be positive, got %d", c.Pipeline.BusCapacity)
	}
	if m := c.Pipeline.Reconnect.Multiplier; m < 1.0 {
		return fmt.Errorf("pipeline.reconnect.multiplier must be >= 1.0, got %v", m)
	}
	if j := c.Pipeline.Reconnect.Jitter; j < 0 || j >= 1.0 {
		return fmt.Errorf("pipeline.reconnect.jitter must be in [0, 1), got %v", j)
	}
	if c.Control.Addr == "" {
		return fmt.Errorf("control.addr is required")
	}
	return nil
}

// Duration accessors.

func (f FeedConfig) DialTimeout() time.Duration {
	return time.Duration(f.DialTimeoutMS) * time.Millisecond
}

func (s StoreConfig) BatchTimeout() time.Duration {
	return time.Duration(s.BatchTimeoutMS) * time.Millisecond
}

func (s StoreConfig) RetryBackoff() time.Duration {
	return time.Duration(s.RetryBackoffMS) * time.Millisecond
}

func (s StoreConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalMS) * time.Millisecond
}

func (s StoreConfig) SweepGrace() time.Duration {
	return time.Duration(s.SweepGraceMS) * time.Millisecond
}

func (b BackoffConfig) InitialDelay() time.Duration {
	return time.Duration(b.InitialDelayMS) * time.Millisecond
}

func (b BackoffConfig) MaxDelay() time.Duration {
	return time.Duration(b.MaxDelayMS) * time.Millisecond
}

func (c ControlConfig) MutationTimeout() time.Duration {
	return time.Duration(c.MutationTimeoutMS) * time.Millisecond
}
