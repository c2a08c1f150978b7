/*
Package supervisor runs the subscription workers and keeps their set
consistent with the interest table.

One worker owns one feed session for one interest-generation. The
supervisor is a single goroutine that multiplexes control-plane
mutations, worker exits and reconnect timers, so every topology change
is serialized and the generation handover has no interleavings to
reason about.

# Architecture

	┌──────────────┐  ApplyUpsert / ApplyRemove   ┌─────────────────┐
	│ control plane├─────────────────────────────▶│                 │
	└──────────────┘        (mutCh)               │                 │
	                                              │   Supervisor    │
	┌──────────────┐  worker exited               │   (one loop,    │
	│ exit monitor ├─────────────────────────────▶│    owns the     │
	└──────────────┘        (exitCh)              │    worker map)  │
	                                              │                 │
	┌──────────────┐  backoff timer fired         │                 │
	│ time.AfterFunc├────────────────────────────▶│                 │
	└──────────────┘        (retryCh)             └───────┬─────────┘
	                                                      │ spawn / drain
	                         ┌────────────────────────────┼──────────────┐
	                         ▼                            ▼              ▼
	                   ┌──────────┐                ┌──────────┐    ┌──────────┐
	                   │ worker A │                │ worker B │    │ worker C │
	                   └────┬─────┘                └────┬─────┘    └────┬─────┘
	                        │ admitted records          │               │
	                        ▼                           ▼               ▼
	                ┌───────────────────────────────────────────────────────┐
	                │            fan-in channel (bounded)                   │──▶ writer
	                └───────────────────────────────────────────────────────┘
	                        │ tee
	                        ▼
	                    live bus

# Worker Lifecycle

A worker moves through four states:

 1. Starting - Subscribe() in flight; the session is scoped to the
    worker's bound predicate and the call returns only once the feed
    acknowledged the subscription.
 2. Running - runningCh closed; the worker consumes events, classifies
    each one under the current table snapshot, and forwards admitted
    records.
 3. Draining - drainCh closed; the worker stops receiving from the
    feed, finishes at most one pending fan-in send, and exits. Records
    already queued on the fan-in channel remain the writer's
    responsibility.
 4. Failed - the feed session returned an error; the worker records it
    in w.err and exits. The supervisor decides what happens next.

Per event the worker:

	snapshot := table.Snapshot()          // one atomic pointer load
	in, ok := snapshot.Get(interestID)
	if !ok || in.Generation != bound {    // superseded -> Draining
	    drain()
	}
	record, result := classifier.Classify(event, in.Predicate)
	// stamp TS + InterestID, decode payload, tee to bus,
	// block into the fan-in channel

The blocking send into the bounded fan-in channel is the pipeline's
entire backpressure protocol: when the writer falls behind, workers
suspend inside that send and stop pulling from the feed. Nothing is
dropped and nothing buffers unboundedly.

# Generation Handover

Upsert is the correctness-critical mutation. The sequence enforced by
applyUpsert:

	1. Read the new-generation entry from the table (already installed
	   by the control plane).
	2. Spawn the new worker.
	3. Wait for its subscription acknowledgement (runningCh).
	4. Signal the old worker to drain.
	5. Wait for the old worker to exit.
	6. Reply to the control plane.

After step 6, no record with the retired generation can reach the
fan-in channel: the old worker has exited, and any record it produced
before that is already queued. Workers also self-drain when they notice
a superseded generation in the snapshot, so even a crashed supervisor
loop cannot produce stale interleavings.

If the new worker cannot start, the mutation replies with an error; the
old worker is retired anyway (the table has already moved, so it would
self-drain on its next event) and the new generation enters the
reconnect path below.

# Reconnection

Workers that fail with transient feed errors are respawned under
exponential backoff:

	delay(n) = initial * multiplier^(n-1), capped at max, then +/- jitter

Defaults: 1s initial, x2, 60s cap, 10% jitter, unlimited attempts
(max_attempts = 0). The timer fires into retryCh; the retry is dropped
if the interest was removed, re-upserted (generation moved), or a
worker is already attached.

Fatal feed errors (rejected credentials, protocol violations) do not
reconnect. The interest is parked in the unavailable map and stays dark
until an operator re-upserts it, which clears the parking.

Only the affected worker reconnects - a transient error on one interest
never restarts the rest of the worker set.

# Shutdown

Shutdown is hierarchical and loss-free for queued records:

	Shutdown() -> drain every worker -> wait for all exits
	           -> close(fanin) -> writer flushes its tail and stops

Closing the fan-in channel only after the last worker exited is what
makes the close safe: no goroutine can send on it afterwards.

# Core Components

Supervisor: the supervision loop and mutation API.

	sup := supervisor.New(source, table, decoders, liveBus, fanin, backoffCfg)
	sup.Start(ctx)                       // one worker per persisted interest
	err := sup.ApplyUpsert(mctx, "I1")   // returns after handover
	err = sup.ApplyRemove(mctx, "I1")    // returns after worker exit
	n := sup.WorkerCount()               // for health reporting
	err = sup.Shutdown(sctx)             // drain, wait, close fan-in

worker (unexported): one feed session, one goroutine, plus a pump
goroutine that races Recv against drain/shutdown so cancellation is
honored within one event dequeue cycle.

# Design Patterns

Single-owner state: the workers map and the unavailable map are touched
only by the supervision loop goroutine. Mutations, exits and retries
are messages into that loop, never shared-memory writes. WorkerCount is
the one read-side concession, backed by an atomic counter.

Command channel over callbacks: interest updates arrive as {Upsert,
Remove} commands on one channel instead of observer callbacks. The loop
state machine is what enforces "new worker running before old worker
drained"; a callback registry would reintroduce the race where an
update is visible before its worker exists.

Monitor goroutines: each spawned worker gets a tiny goroutine that
waits on its doneCh and forwards the worker to exitCh. The loop never
blocks on a worker exiting except inside an acknowledged mutation.

# Failure Modes

  - Transient feed error: worker exits, reconnect scheduled, records
    resume after the next successful Subscribe.
  - Fatal feed error: interest parked; visible in logs and via the
    workers gauge dropping below the interests gauge.
  - Mutation timeout: ApplyUpsert/ApplyRemove return ErrUnavailable
    wrapped; the control plane maps this to HTTP 503.
  - Writer stall: workers block in their fan-in send; the feed stops
    being consumed. This is backpressure working, not a failure - it
    surfaces as fan-in depth, never as an error.

# Integration Points

## Interest Table

The supervisor never mutates the table; the control plane does. The
supervisor's job is to make the worker set converge on whatever the
table says:

  - Snapshot().Get(id) during mutations and retries, to bind workers
    to the current generation
  - workers compare their bound generation against the snapshot per
    event and self-drain when superseded

## Control Plane

pkg/api calls ApplyUpsert/ApplyRemove after updating the table, with a
context carrying the mutation timeout. Error mapping:

	interest.ErrNotFound   -> the table entry vanished mid-flight
	ErrUnavailable (wrapped) -> HTTP 503
	anything else          -> HTTP 500

## Writer

The only coupling is the fan-in channel: workers send, the writer
receives, the supervisor closes it at shutdown. There is no direct
reference in either direction.

# Performance Characteristics

Per admitted event, the worker pays: one atomic snapshot load, one map
lookup, classification (set membership over the predicate), one decoder
call, one bus publish (slot write + wake pokes) and one channel send.
The only locks on the hot path are the decoder registry's read lock and
the bus's short critical section.

Mutations are operator-rate and serialized; an upsert costs one feed
Subscribe round-trip plus the old worker's drain (bounded by one
in-flight fan-in send). Reconnect timers are one time.AfterFunc each -
idle interests cost nothing.

# Troubleshooting

## Records Stopped Flowing For One Interest

 1. Check workers_running vs interests_active - if lower, the interest
    is between reconnect attempts or parked.
 2. Look for "Interest unavailable until re-upserted" (fatal feed
    error: bad key, rejected filter). Re-upsert after fixing.
 3. Look for "Scheduling reconnect" lines - attempt number and delay
    tell you where in the backoff curve it is.

## Mutations Returning 503

The supervisor loop was busy past the mutation timeout. The usual
cause is an upsert whose old worker is stuck in a fan-in send because
the writer is stalled - check ledgertap_fanin_depth. Fix the store,
not the supervisor.

## Worker Count Climbing After Upserts

It should not: each upsert replaces its worker. If WorkerCount exceeds
the interest count, a drain is wedged; capture goroutine stacks and
look for workers blocked in the fan-in send with no writer running.

# See Also

  - pkg/classifier - per-event admission logic
  - pkg/interest - the snapshot table workers read
  - pkg/writer - the single consumer of the fan-in channel
  - pkg/feed - the Source/Session contract workers hold
*/
package supervisor
