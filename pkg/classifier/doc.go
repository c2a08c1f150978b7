/*
Package classifier turns feed events into records under an interest's
predicate.

Classify is the single admission point for the whole pipeline: every
event a worker receives goes through it exactly once, against the
predicate found in the current interest-table snapshot.

# Architecture

	 feed event                       predicate (from snapshot)
	     │                                 │
	     ▼                                 ▼
	┌─────────────────────────────────────────────────────────┐
	│                      Classify                           │
	│                                                         │
	│  1. kind check      account / transaction, else Discard │
	│  2. width check     32-byte pubkeys, 64-byte signatures │
	│  3. OR-clause       accounts ∪ owners ∪ tx_included     │
	│  4. AND-clause      tx_required ⊆ referenced accounts   │
	│  5. classification  Verified / Failed / Unknown         │
	└────────────┬────────────────────────────────────────────┘
	             │
	     ┌───────┴────────┬──────────────┬──────────────┐
	     ▼                ▼              ▼              ▼
	  Admitted         Rejected       Invalid       Discarded
	  (record          (no record)    (counted,     (kind not
	   skeleton)                       no record)    materialized)

# Admission Semantics

An event is admitted when:

	(matches accounts OR owners OR tx_accounts_included)
	AND (tx_accounts_required ⊆ refs, when non-empty)

Clause behavior by event kind:

  - Account updates match on their own pubkey (accounts set) or their
    owner (owners set). Transaction clauses never apply to them.
  - Transactions match when any referenced account is in the accounts
    or tx_accounts_included sets. The owners set never matches
    transactions - an owners-only interest admits no transactions.
  - tx_accounts_required narrows; it never widens. A transaction
    matching the include clause is still rejected unless every required
    account appears among its references. This AND semantics is a
    deliberate, pinned choice (see
    TestClassifyTransactionRequiredAndsWithInclude).

An empty clause constrains nothing, but a predicate whose three
OR-clauses are all empty is invalid and rejected upstream at upsert
time.

# Classification

The label derives from the transaction's execution metadata:

	meta == nil    -> Unknown  -> rejected (cannot tell success apart)
	meta.Err != "" -> Failed   -> rejected unless IncludeFailed
	meta.Err == "" -> Verified -> admitted

Account updates are always Verified.

# Result Catalogue

	Admitted  - a record skeleton was produced: Topic, ID and
	            Classification are set; the caller stamps TS,
	            InterestID and Payload.
	Rejected  - well-formed event, predicate or policy says no.
	Invalid   - malformed identifiers (wrong width). The worker counts
	            these (ledgertap_invalid_events_total) and continues;
	            a bad event never kills a subscription.
	Discarded - event kinds the pipeline does not materialize (slot
	            ticks, block metadata, future feed additions).

# Identity Derivation

	DeriveTransactionID(sig)        -> base58(signature)
	DeriveAccountID(pubkey, slot)   -> "{base58(pubkey)}:{slot}"
	DeriveRefs(tx)                  -> referenced pubkeys, malformed
	                                   keys skipped

Identity is NOT uniqueness: the same account can be updated at the same
slot across reconnects, and the store may hold both entries. Dedup is a
downstream concern.

# Purity

Classify is a pure function: no clocks, no I/O, no shared state.
Re-classifying the same event
under the same predicate yields an identical topic, id and
classification (TestClassifyDeterministic). Timestamping and payload
decoding deliberately live in the worker so this property holds.

# Usage

	rec, res := classifier.Classify(ev, in.Predicate)
	switch res {
	case classifier.Admitted:
	    rec.InterestID = in.ID
	    rec.TS = time.Now().UnixMilli()
	    rec.Payload, _ = decoders.Decode(ev)
	case classifier.Invalid:
	    metrics.InvalidEventsTotal.Inc()
	}

# Edge Cases

The corners that are pinned by tests rather than left to intuition:

  - Account update with a truncated pubkey: Invalid, counted, worker
    continues. A zero-width or short key is feed damage, not a crash.
  - Transaction without meta: Unknown, rejected even when
    IncludeFailed is set - "failed" is a known outcome, "unknown" is
    not.
  - Malformed keys inside a transaction's reference list: skipped by
    DeriveRefs; the remaining well-formed refs still participate in
    matching.
  - Empty payload after decode: not the classifier's concern - the
    record is emitted with empty bytes (the worker applies that
    policy).
  - Owners-only predicate against a transaction: rejected. Ownership
    is an account-event property.

# Performance Characteristics

Admission cost per event is set-membership over the predicate:
O(refs) map lookups for a transaction's OR-clause, O(required) for the
AND-clause (plus building one ref set when required is non-empty), two
lookups for an account update. Rejecting an account update allocates
nothing; every transaction allocates its reference list (DeriveRefs)
before matching, whether it is admitted or rejected.

The per-event table snapshot is acquired by the caller; the classifier
itself sees a plain Predicate value and cannot observe mutations
mid-event.

# Troubleshooting

## A Transaction I Expected Was Not Admitted

Walk the clauses in order: was any referenced account in accounts or
tx_accounts_included? Was every tx_accounts_required member present
(AND, not OR)? Was the transaction Verified - or Failed without the
interest's IncludeFailed override? The three questions cover every
rejection of a well-formed event.

## invalid_events_total Climbing

The feed is delivering identifiers with the wrong width. Harmless to
the pipeline (counted and skipped) but worth reporting upstream; a
sudden jump usually accompanies a feed protocol change.

# See Also

  - pkg/types - Predicate and event shapes
  - pkg/supervisor - the only caller
  - pkg/decoder - payload production after admission
*/
package classifier
