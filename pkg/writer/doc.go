/*
Package writer commits admitted records to the durable stream-store.

A single Writer task drains the fan-in channel, groups records into
bounded batches, and commits each batch as one pipelined append with
approximate per-topic retention trimming. It owns every stream-store
connection; workers never touch the store.

# Architecture

	              ┌────────────────────────────────────────────┐
	 workers ────▶│        fan-in channel (cap 10000)          │
	              └────────────────────┬───────────────────────┘
	                                   │ recv
	                                   ▼
	              ┌────────────────────────────────────────────┐
	              │                  Writer                    │
	              │                                            │
	              │  batch [≤ batch_size records]              │
	              │  flush when: len == batch_size             │
	              │          or: batch_timeout since first rec │
	              │          or: channel closed (final flush)  │
	              └────────────────────┬───────────────────────┘
	                                   │ AppendBatch (pipelined XADD,
	                                   │ MAXLEN ~ max_entries per topic)
	                                   ▼
	              ┌────────────────────────────────────────────┐
	              │              stream-store                  │
	              │   account / transaction (+ partitions)     │
	              └────────────────────────────────────────────┘

# Batch Loop

The loop races three inputs: the channel receive, the batch deadline,
and the periodic bookkeeping sweep.

	for {
	    select {
	    case r, ok := <-in:
	        if !ok { flushFinal(); return }
	        batch = append(batch, r)
	        if len(batch) == 1 { armTimer(batch_timeout) }
	        if len(batch) >= batch_size { flush() }
	    case <-timer:
	        flush()
	    case <-sweep:
	        dropExpiredBookkeeping()
	    }
	}

At any instant the writer holds at most batch_size uncommitted records;
everything else queues on the bounded channel. Order within a batch is
arrival order, and batches commit in arrival order, so per-worker FIFO
survives end to end.

# Retry And Drop Policy

Commit failures split two ways:

  - Transient (connectivity, timeouts): retried with exponential
    backoff, retry_backoff_ms doubling per attempt, up to max_attempts.
    A batch that still fails is dropped and counted
    (ledgertap_batches_dropped_total) - the writer never wedges the
    pipeline behind a dead store.
  - Fatal (NOAUTH, WRONGPASS, NOPERM, WRONGTYPE): wrapped in FatalError
    and returned from Run. No amount of retrying fixes credentials or a
    schema mismatch, so this stops the process.

# Entry Format

Each record becomes one stream entry:

	topic:  record topic, plus "{topic}:{interest_id}" when
	        partition_by_interest is on
	id:     "{ms}:{idx}" - flush timestamp and the entry's sequence
	        number for that topic within the millisecond; this
	        per-topic cursor keeps ids monotonic even when two
	        batches land in the same millisecond or the clock steps back
	fields: id, interest_id, classification, ts, payload

The fields are split deliberately (no single JSON blob): downstream
consumers index on interest_id and classification without parsing
payloads.

# Shutdown

The supervisor closes the fan-in channel after the last worker exits.
The writer then flushes its partial batch once, with the normal retry
policy, and returns. Context cancellation is the abnormal path and
still attempts a final flush under a short grace period.

# Core Components

Writer: the batch loop.

	w := writer.New(fanin, store, cfg.Store)
	err := w.Run(ctx)   // returns nil on drain, FatalError on dead store

Appender: the store contract - one pipelined append per batch.

	type Appender interface {
	    AppendBatch(ctx context.Context, entries []Entry) error
	}

RedisStore: the Redis Streams implementation. XADD with MAXLEN ~ inside
a pipeline per batch, plus the consumer-group surface used by
downstream consumers and the "ledgertap tail" command:

	store, _ := writer.NewRedisStore(ctx, "redis://localhost:6379", 1_000_000)
	_ = store.EnsureGroup(ctx, "transaction", "archiver", "0")
	msgs, _ := store.ReadGroup(ctx, "transaction", "archiver", "c1", 100, time.Second)
	_ = store.Ack(ctx, "transaction", "archiver", ids...)

The core never reads back; ReadGroup/Ack exist for the consumers the
pipeline feeds.

# Retention

Every append passes MAXLEN ~ max_entries, so a topic's length stays
within max_entries + batch_size of the cap. Trimming is the store's
job; the writer only restates the bound on each append.

The sweep is advisory bookkeeping only: ids of committed records are
remembered for a grace window (default 1h) and swept every 5 minutes.
Durability lives in the stream-store, never in writer memory.

# Observability

  - ledgertap_batches_committed_total / _dropped_total / _retries_total
  - ledgertap_batch_commit_duration_seconds
  - ledgertap_fanin_depth - the backpressure gauge

# Ordering Guarantees

Three layers compose into the pipeline's ordering story:

 1. Within a batch: entries are built in slice order, and the pipeline
    preserves command order, so records commit in arrival order.
 2. Across batches: the writer is a single goroutine; batch N is fully
    committed (or dropped) before batch N+1 is assembled.
 3. Into the channel: each worker enqueues in feed order.

Together: per-worker FIFO from feed to store. Cross-worker order is
whatever the channel interleaving produced, and is not a guarantee.

A dropped batch is the one ordering wound: its records are gone but
later records still commit. The drop counter is the audit trail.

# Performance Characteristics

One pipelined round-trip per batch: 100 records cost one network
exchange, not 100. At the default 100ms timeout, a quiet topic adds at
most 100ms of latency; a busy one flushes on size and the timeout never
fires. Memory is bounded by batch_size records plus the channel buffer
(I1) - there is no internal queue that can grow.

The bookkeeping map grows with committed records between sweeps
(default window 1h, sweep every 5m) and is the only writer state whose
size tracks throughput; the sweep exists to bound it.

# Troubleshooting

## fanin_depth Pinned At Capacity

The writer is slower than the workers. Check
batch_commit_duration_seconds for a slow store, and batch_retries_total
for a flapping one. Workers are blocked, not losing data - but the feed
is not being consumed.

## batches_dropped_total Increasing

The store was unreachable past max_attempts for those batches; their
records are lost durably. Raise max_attempts / retry_backoff_ms if the
store has known blips, but keep the product well under what the fan-in
channel absorbs, or backpressure will reach the feed anyway.

## Writer Exited, Process Down

A FatalError: authentication or key-type conflict. Look at the final
"fatal stream-store error" log line. WRONGTYPE means another writer put
a non-stream value at a topic key - fix the keyspace, not ledgertap.

## Stream Longer Than max_entries

Expected: trimming is approximate (MAXLEN ~). The store trims at
macro-node granularity; the excess is bounded by roughly one node plus
batch_size. Exact trimming is deliberately not requested - it turns
every append into a rewrite.

# See Also

  - pkg/supervisor - produces into the fan-in channel and closes it
  - pkg/metrics - the counters above
  - cmd/ledgertap - the tail command built on the consumer-group surface
*/
package writer
