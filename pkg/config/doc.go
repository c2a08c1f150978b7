/*
Package config loads and validates Ledgertap configuration.

# Layering

	defaults  <-  YAML file (--config)  <-  CLI flags

Configuration starts from built-in defaults, a YAML file overrides
them, and individual CLI flags (--api-key, --log-store, --control-addr,
...) override the file. Validation runs after the file merge and again
after flag application, so a bad combination fails the process at
startup (ConfigError is fatal by policy).

# Conventions

All durations are millisecond integers in YAML (batch_timeout_ms,
dial_timeout_ms, initial_delay_ms ...), matching the wire conventions
of the feed and store collaborators; the Go side exposes typed
accessors (BatchTimeout() time.Duration).

# Sections

	feed:       endpoint, api_key, insecure, dial_timeout_ms
	store:      url, max_entries, batch_size, batch_timeout_ms,
	            max_attempts, retry_backoff_ms, partition_by_interest,
	            sweep_interval_ms, sweep_grace_ms
	pipeline:   fanin_capacity, bus_capacity,
	            reconnect: {initial_delay_ms, max_delay_ms, multiplier,
	                        jitter, max_attempts}
	control:    addr, mutation_timeout_ms, data_dir

Defaults worth knowing: batches of 100 records or 100ms, 1M-entry
approximate retention, 10000-slot fan-in channel and bus, 1s-to-60s
doubling reconnect backoff with 10% jitter and unlimited attempts, 5s
mutation timeout, 30s feed dial timeout.

# Minimal Config

	feed:
	  endpoint: grpc.example.org:443
	  api_key: secret
	store:
	  url: redis://localhost:6379
	control:
	  addr: 0.0.0.0:8080

# Validation Rules

Rejected outright: missing feed endpoint or store URL, non-positive
batch size / retention / channel capacities, a backoff multiplier below
1.0, jitter outside [0, 1), and a missing control listen address.

# See Also

  - cmd/ledgertap - flag wiring and the load-merge-validate sequence
*/
package config
