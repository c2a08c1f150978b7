package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Store.BatchSize != 100 {
		t.Errorf("BatchSize = %d, want 100", cfg.Store.BatchSize)
	}
	if cfg.Store.BatchTimeout() != 100*time.Millisecond {
		t.Errorf("BatchTimeout = %v, want 100ms", cfg.Store.BatchTimeout())
	}
	if cfg.Store.MaxEntries != 1_000_000 {
		t.Errorf("MaxEntries = %d, want 1000000", cfg.Store.MaxEntries)
	}
	if cfg.Pipeline.FanInCapacity != 10_000 {
		t.Errorf("FanInCapacity = %d, want 10000", cfg.Pipeline.FanInCapacity)
	}
	if cfg.Pipeline.Reconnect.InitialDelay() != time.Second {
		t.Errorf("InitialDelay = %v, want 1s", cfg.Pipeline.Reconnect.InitialDelay())
	}
	if cfg.Pipeline.Reconnect.MaxDelay() != time.Minute {
		t.Errorf("MaxDelay = %v, want 60s", cfg.Pipeline.Reconnect.MaxDelay())
	}
	if cfg.Control.MutationTimeout() != 5*time.Second {
		t.Errorf("MutationTimeout = %v, want 5s", cfg.Control.MutationTimeout())
	}
	if cfg.Feed.DialTimeout() != 30*time.Second {
		t.Errorf("DialTimeout = %v, want 30s", cfg.Feed.DialTimeout())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	raw := `
feed:
  endpoint: grpc.example.org:443
  api_key: secret
store:
  url: redis://db:6379
  batch_size: 50
  batch_timeout_ms: 250
pipeline:
  fanin_capacity: 2048
control:
  addr: 0.0.0.0:9090
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Feed.Endpoint != "grpc.example.org:443" {
		t.Errorf("Endpoint = %q", cfg.Feed.Endpoint)
	}
	if cfg.Store.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", cfg.Store.BatchSize)
	}
	if cfg.Store.BatchTimeout() != 250*time.Millisecond {
		t.Errorf("BatchTimeout = %v, want 250ms", cfg.Store.BatchTimeout())
	}
	// Untouched fields keep their defaults.
	if cfg.Store.MaxEntries != 1_000_000 {
		t.Errorf("MaxEntries = %d, want default", cfg.Store.MaxEntries)
	}
	if cfg.Pipeline.BusCapacity != 10_000 {
		t.Errorf("BusCapacity = %d, want default", cfg.Pipeline.BusCapacity)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() succeeded on missing file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing endpoint", func(c *Config) { c.Feed.Endpoint = "" }},
		{"missing store url", func(c *Config) { c.Store.URL = "" }},
		{"zero batch size", func(c *Config) { c.Store.BatchSize = 0 }},
		{"negative max entries", func(c *Config) { c.Store.MaxEntries = -1 }},
		{"zero fanin", func(c *Config) { c.Pipeline.FanInCapacity = 0 }},
		{"multiplier below one", func(c *Config) { c.Pipeline.Reconnect.Multiplier = 0.5 }},
		{"jitter out of range", func(c *Config) { c.Pipeline.Reconnect.Jitter = 1.5 }},
		{"missing control addr", func(c *Config) { c.Control.Addr = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Feed.Endpoint = "feed:443"
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted an invalid config")
			}
		})
	}
}
