/*
Package interest maintains the mutable mapping from interest id to
predicate and generation.

# Architecture

	 writers (control plane)              readers (workers, per event)
	        │                                      │
	        ▼                                      ▼
	┌───────────────────┐   atomic pointer   ┌──────────────────┐
	│   Table (mutex-   │   swap on every    │     Snapshot     │
	│   serialized      ├───────────────────▶│   (immutable     │
	│   Upsert/Remove)  │   mutation         │    map, O(1)     │
	└─────────┬─────────┘                    │    acquisition)  │
	          │ write-through                └──────────────────┘
	          ▼
	┌───────────────────┐
	│  Store (bbolt)    │
	│  interests bucket │
	│  meta bucket      │
	└───────────────────┘

# Consistency Model

Reads never block and never lock: Snapshot() is one atomic pointer
load, and the snapshot is immutable for its lifetime. Every mutation
copies the map, applies its change, and swaps the pointer. A worker
classifying an event therefore sees either the pre-update or the
post-update predicate for any interest - never a mix of old accounts
with new owners.

A snapshot acquired before a mutation keeps serving the old view for as
long as it is held. Workers hold one per event, so staleness is bounded
by one classification.

Writes are serialized by a mutex. The write path is:

	validate -> next generation -> persist (write-through) -> publish

Persistence happens before publication; a crash between the two leaves
the durable state ahead of the in-memory state, which the next startup
reconciles by loading the store.

# Generations

One counter, monotonic, never reused:

  - Upsert assigns the next value, across all interests.
  - Remove leaves the counter alone.
  - The counter is persisted in the meta bucket and restored on load,
    so generations keep increasing across restarts.

The supervisor compares a worker's bound generation against the
snapshot entry to decide retirement; a stale worker drains itself the
moment it observes a higher generation.

# Validation

Upsert rejects:

  - an empty interest id
  - a predicate whose accounts, owners and tx_accounts_included sets
    are all empty (TxAccountsRequired alone selects nothing - it only
    narrows)

Identifier widths are enforced earlier, at base58 parse time in the
control plane, so the table never sees malformed keys.

Both failures surface as ErrInvalidPredicate; Remove of an unknown id
returns ErrNotFound. Callers branch with errors.Is.

# Persistence

Interests live in a bolt database (interests.db) so a restart resumes
the same subscription topology without operator action:

	interests bucket:  id -> JSON {id, accounts, account_owners,
	                   transaction_accounts_include,
	                   transaction_accounts_required,
	                   include_failed, generation}
	meta bucket:       next_generation -> big-endian uint64

Pubkeys are stored base58-encoded, keeping the database inspectable
with stock bolt tooling. Put writes the entry and the advanced counter
in one transaction.

# Usage

	store, _ := interest.NewStore(dataDir)      // nil disables persistence
	table, _ := interest.NewTable(store)        // loads persisted entries

	gen, err := table.Upsert("I1", pred)        // strictly increasing
	err = table.Remove("I1")                    // ErrNotFound if absent

	snap := table.Snapshot()                    // per-event, O(1)
	in, ok := snap.Get("I1")

	for _, s := range table.List() {            // control-plane listing
	    fmt.Println(s.ID, s.Generation, s.Accounts)
	}

# Performance Characteristics

  - Snapshot(): one atomic load; no allocation.
  - Get(): one map lookup on an immutable map.
  - Upsert/Remove: O(n) map copy under the writer mutex plus one bolt
    transaction. Interest counts are operator-scale (tens to hundreds),
    and mutations are operator-driven, so the copy cost is irrelevant
    next to the consistency it buys.

# Integration Points

## Control Plane

pkg/api is the only writer: it parses and validates identifiers, calls
Upsert/Remove, then asks the supervisor to realize the change. The
table is updated before the supervisor is told, so a reader never sees
a topology the table does not describe.

## Workers

Workers are the hot-path readers: one Snapshot() per event, one Get()
for their own interest. The generation field doubles as the retirement
signal - a worker that reads a generation above its own drains itself
without any supervisor involvement.

## Startup

cmd/ledgertap opens the Store, builds the Table from it, and hands the
Table to both the supervisor (which spawns a worker per entry) and the
control plane. The persisted generation counter guarantees that
post-restart upserts keep outbidding pre-restart workers' generations.

# Troubleshooting

## Upsert Returns ErrInvalidPredicate

Either the interest id was empty or all three OR-sets were. Remember
that transaction_accounts_required alone is not a valid predicate - it
narrows, it does not select. Add at least one accounts / owners /
include entry.

## Interests Missing After Restart

The table only loads what the Store saw. Check that data_dir is on
persistent storage and the same path across restarts; interests created
while running with persistence disabled (nil Store) are memory-only by
design.

## Generation Did Not Advance

It always advances on successful upsert - if an observed generation
looks stale, the snapshot being inspected predates the mutation. Take a
fresh Snapshot(); old handles intentionally keep serving their view.

# See Also

  - pkg/supervisor - consumes snapshots and generations
  - pkg/api - the mutation entry point
  - pkg/types - Predicate and Interest definitions
*/
package interest
