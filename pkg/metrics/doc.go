/*
Package metrics exposes Prometheus instrumentation for the pipeline.

All metrics are package-level collectors registered at init and written
directly by the owning component. The /metrics endpoint is served on
the control-plane listener.

# Metric Catalogue

Ingestion (workers):

	ledgertap_records_ingested_total{topic, classification}
	ledgertap_invalid_events_total
	ledgertap_decoder_errors_total

Writer:

	ledgertap_batches_committed_total
	ledgertap_batches_dropped_total
	ledgertap_batch_retries_total
	ledgertap_batch_commit_duration_seconds
	ledgertap_fanin_depth

Live bus:

	ledgertap_bus_published_total
	ledgertap_bus_dropped_total
	ledgertap_bus_subscribers

Subscriptions:

	ledgertap_workers_running
	ledgertap_worker_reconnects_total{interest_id}
	ledgertap_interests_active
	ledgertap_interest_mutations_total{op, status}

Control plane:

	ledgertap_control_requests_total{path, status}
	ledgertap_control_request_duration_seconds{path}

# Reading The Gauges

Backpressure is deliberately not an error counter anywhere; it surfaces
only through ledgertap_fanin_depth climbing toward the channel
capacity. A healthy steady state keeps it near zero.

workers_running < interests_active means interests are parked
(reconnect backoff in progress, or a fatal feed error awaiting
re-upsert); the reconnects counter tells which.

batches_dropped_total moving at all means the stream-store was
unreachable past the retry budget and records were lost durably - alert
on any increase.

# Timer

Timer is the shared stopwatch-to-histogram helper:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BatchCommitDuration)

# See Also

  - pkg/api - serves the exposition endpoint and the request metrics
*/
package metrics
