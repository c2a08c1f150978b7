/*
Package feed defines the chain-feed collaborator contract and its gRPC
implementation.

The pipeline's workers consume the feed as a lazy sequence of typed
events; everything protocol-specific stays behind two small interfaces
so tests script sessions without a network.

# Architecture

	┌──────────────┐  Subscribe(ctx, id, predicate)  ┌─────────────────┐
	│    worker    ├────────────────────────────────▶│     Source      │
	└──────┬───────┘                                 └────────┬────────┘
	       │                                                  │ dial, auth,
	       │ Recv() loop                                      │ filter, ack
	       ▼                                                  ▼
	┌──────────────┐     account / transaction      ┌─────────────────┐
	│   Session    │◀───────────────────────────────│  gRPC subscribe │
	│ (one conn,   │      updates (JSON codec)      │     stream      │
	│  one worker) │                                └─────────────────┘
	└──────────────┘

Connections are never shared: one worker, one session, one gRPC
connection. Closing the session closes the connection and unblocks any
pending Recv.

# Contract

	type Source interface {
	    Subscribe(ctx, interestID string, pred types.Predicate) (Session, error)
	}
	type Session interface {
	    Recv() (types.Event, error)
	    Close() error
	}

Subscribe returns only once the feed acknowledged the subscription -
for the gRPC source, once the response headers arrive, bounded by the
configured dial timeout (default 30s). That acknowledgement is what the
supervisor treats as a worker reaching Running during a generation
handover.

# Error Taxonomy

Any error from Recv terminates the session. Two classes matter:

  - Fatal (FatalError, test with IsFatal): rejected credentials,
    permission failures, protocol violations - gRPC codes
    Unauthenticated, PermissionDenied, InvalidArgument, Unimplemented.
    Reconnecting cannot fix these; the supervisor parks the interest.
  - Everything else is transient: connection resets, timeouts, stream
    EOF. The supervisor reconnects under backoff.

ErrSessionClosed is the clean local-close result and is not a failure.

# Wire Details

The gRPC source dials with warren-style grpc.NewClient, client-side
keepalive, and TLS by default (insecure only for local feeds). The
x-api-key credential rides as stream metadata. The subscribe stream
speaks a JSON codec; messages are the update envelope in wire.go:

	{"account": {...}} | {"transaction": {...}} | {"ping": {}}

Pings and unrecognized kinds are consumed inside Recv; callers see only
account and transaction updates.

The subscribe request derives from the predicate (accounts/owners
filter, transaction include/required filter, vote streams excluded) so
the feed pre-filters server-side. That filter is a bandwidth
optimization only - the classifier re-checks admission for every event,
so a generous feed never over-admits.

# Usage

	source := feed.NewGRPCSource(cfg.Feed)
	session, err := source.Subscribe(ctx, "I1", pred)
	if err != nil { ... }
	defer session.Close()

	for {
	    ev, err := session.Recv()
	    if err != nil {
	        if feed.IsFatal(err) { ... park ... }
	        ... reconnect ...
	    }
	    ...
	}

# See Also

  - pkg/supervisor - owns sessions and the reconnect policy
  - pkg/types - the event shapes Recv yields
*/
package feed
