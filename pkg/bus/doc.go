/*
Package bus implements the live broadcast channel for interactive
consumers.

Durable delivery is the writer's job; the bus exists so a WebSocket tap
or a debugging session can watch the stream without touching the store,
and without ever being able to slow the pipeline down.

# Architecture

	 workers ──Publish──▶ ┌─────────────────────────────────┐
	                      │  ring buffer (bounded history)  │
	                      │                                 │
	                      │  seq ──▶ [r][r][r][r][r][r][r]  │
	                      └───────┬──────────┬──────────────┘
	                              │          │
	                    cursor A  │          │  cursor B
	                              ▼          ▼
	                      ┌────────────┐ ┌────────────┐
	                      │ subscriber │ │ subscriber │
	                      │  (fast)    │ │  (lagging) │
	                      └────────────┘ └────────────┘

Records go into a bounded ring indexed by a global sequence number;
each subscription is an independent cursor into that ring. Publishing
is one slot write, one counter increment, and a non-blocking poke of
each subscriber's buffered wake channel. With no subscribers the whole
call is the slot write and the increment.

# Lossy Semantics

The ring retains the last `capacity` records. A subscriber whose cursor
falls out of the retained window is advanced to the oldest retained
record, and its next Next() call reports how many records it lost:

	rec, dropped, err := sub.Next(ctx)
	// dropped > 0: this subscriber lagged past the ring capacity

The loss is per-subscriber: one slow consumer loses its own records
while a fast consumer on the same bus sees everything
(TestSlowSubscriberIsolated). The publisher never waits on anyone.

New subscribers start at the current head - they receive only records
published after Subscribe(), never history.

# Subscription Identity

Subscriptions carry a uuid, exposed via ID(), so transports logging or
tracing per-consumer behavior (the /live WebSocket tap) can correlate
lag reports with connections.

# Lifecycle

	b := bus.New(capacity)
	sub, err := b.Subscribe()       // ErrClosed after Close
	defer sub.Close()               // detaches the cursor

	for {
	    rec, dropped, err := sub.Next(ctx)  // blocks; honors ctx
	    if err != nil { break }             // ErrClosed on bus close
	    ...
	}

	b.Close()   // wakes every blocked Next with ErrClosed

# Design Notes

The implementation is a mutex-guarded ring rather than a lock-free one.
The publisher's critical section is constant-time and never blocks on
subscriber progress, which is the contract that matters; the lock-free
variant buys nothing at bus rates and costs unsafe pointer juggling.
Wake channels are buffered size one, so the publisher's poke is always
non-blocking and a subscriber that missed several pokes simply catches
up on its next receive.

Counters: ledgertap_bus_published_total, ledgertap_bus_dropped_total,
ledgertap_bus_subscribers.

# See Also

  - pkg/api - the /live WebSocket tap, the main consumer
  - pkg/supervisor - workers tee every admitted record here
*/
package bus
