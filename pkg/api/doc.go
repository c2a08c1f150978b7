/*
Package api is the control-plane HTTP surface: interest CRUD, health,
metrics and the live WebSocket tap.

# Architecture

	 operator / CLI                      live consumers
	       │                                   │
	       ▼                                   ▼
	┌──────────────────────────────────────────────────────────┐
	│                     http.Server                          │
	│                                                          │
	│  GET  /interests          list                           │
	│  POST /interests/upsert   validate ─▶ table ─▶ supervisor│
	│  POST /interests/remove   table ─▶ supervisor            │
	│  GET  /healthz            liveness + gauges              │
	│  GET  /metrics            Prometheus exposition          │
	│  GET  /live               WebSocket ◀── bus subscription │
	└───────────┬──────────────────────────┬───────────────────┘
	            │                          │
	            ▼                          ▼
	     interest.Table            supervisor (Applier)

# Mutation Protocol

Mutations are two-phase, and the phases map onto HTTP status codes:

 1. Validate and install in the interest table. Identifier strings must
    be base58 pubkeys of the canonical width; a predicate whose three
    OR-sets are all empty is invalid. Failures here are 400 (upsert)
    or 404 (removing an unknown id). Nothing reached the supervisor.
 2. Block on the supervisor until the worker topology matches the
    table, bounded by the mutation timeout (default 5s). A timeout or
    busy supervisor is 503; any other supervisor failure is 500.

The ordering matters: by the time ApplyUpsert is called the table
already serves the new predicate, so even a failed acknowledgement
leaves readers consistent - the worker realizes the change on the next
mutation or reconnect.

# Wire Shapes

	GET /interests
	  200 {"I1": "active", "I2": "active"}

	POST /interests/upsert
	  {"interest_id": "I1",
	   "accounts": ["<base58>"],
	   "account_owners": ["<base58>"],
	   "transaction_accounts_include": ["<base58>"],
	   "transaction_accounts_required": ["<base58>"],
	   "include_failed": false}
	  200 {"success": true,  "message": "...", "count": 2}
	  400 {"success": false, "message": "...", "count": 1}

	POST /interests/remove
	  {"interest_id": "I1"}
	  200 / 404 / 503, same envelope

count is the number of active interests after the mutation.

# Live Tap

GET /live upgrades to WebSocket and drains one bus subscription per
connection. Frames:

	{"type": "record", "topic": "transaction", "id": "...",
	 "ts": 1712345678901, "interest_id": "I1",
	 "classification": "verified", "payload": "<base64>"}

	{"type": "lag", "dropped": 42}

A lag frame precedes the next record whenever the subscriber fell far
enough behind to lose records - the bus never blocks the pipeline for a
slow WebSocket. An optional ?interest_id= query narrows the stream.
Subscribers receive only records published after they connect. The
server pings every 30s; disconnects tear down the bus subscription.

# Observability

Every routed endpoint except /live and /metrics is wrapped with request
counting and timing:

	ledgertap_control_requests_total{path, status}
	ledgertap_control_request_duration_seconds{path}
	ledgertap_interest_mutations_total{op, status}

/live is exempt because instrumenting it would wrap the ResponseWriter
and break the WebSocket hijack.

# Core Components

Server: construction and lifecycle.

	srv := api.NewServer(table, sup, liveBus, cfg.Control)
	_ = srv.Start()               // non-blocking
	_ = srv.Shutdown(ctx)         // graceful

Applier: the supervisor surface the handlers depend on, kept narrow so
tests substitute a fake:

	type Applier interface {
	    ApplyUpsert(ctx context.Context, id string) error
	    ApplyRemove(ctx context.Context, id string) error
	    WorkerCount() int
	}

# Error Model

Every mutation failure returns the same envelope with success=false and
a human-readable message; the status code is the machine-readable part:

	400 - invalid body, malformed base58, wrong identifier width,
	      predicate constrains nothing
	404 - removing an unknown interest id
	500 - table persistence failure, unexpected supervisor error
	503 - supervisor did not acknowledge within the mutation timeout

Validation failures have no internal effect; 503 means the table
changed but the worker topology may lag - safe to retry, the operations
are idempotent per (id, predicate).

# Usage Examples

	# declare an interest
	curl -s localhost:8080/interests/upsert -d '{
	  "interest_id": "usdc-transfers",
	  "transaction_accounts_include": ["EPjFWdd5...Dt1v"]
	}'

	# watch it live
	websocat ws://localhost:8080/live?interest_id=usdc-transfers

	# retire it
	curl -s localhost:8080/interests/remove \
	  -d '{"interest_id": "usdc-transfers"}'

# Troubleshooting

## Upserts Succeed But Nothing Streams

The mutation only proves a worker subscribed. Check /healthz (workers
vs interests), then the feed-side logs - a predicate matching nothing
is indistinguishable from a quiet chain at this layer.

## 503 On Every Mutation

The supervisor loop is wedged behind a stalled writer (see
pkg/supervisor troubleshooting). The table still updated; once the
pipeline recovers, re-issue the mutation to force realization, or
restart - persisted interests re-apply on boot.

## Live Tap Keeps Emitting lag Frames

The client is slower than the record rate; the bus is shedding for it.
Narrow the stream with ?interest_id=, or consume from the durable log
through a consumer group instead - the tap is a debugging window, not a
delivery mechanism.

# See Also

  - pkg/client - Go client of these endpoints for the CLI
  - pkg/interest - validation and storage behind phase 1
  - pkg/supervisor - acknowledgement behind phase 2
  - pkg/bus - the ring the live tap drains
*/
package api
