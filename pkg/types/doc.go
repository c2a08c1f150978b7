/*
Package types defines the core data model shared across the Ledgertap
pipeline: feed events, predicates, interests and the Record that flows
from the subscription workers to the stream-store and the live bus.

# Data Flow

	feed event (AccountUpdate / TransactionUpdate)
	    │  classifier + predicate
	    ▼
	Record {Topic, ID, TS, InterestID, Classification, Payload}
	    │
	    ├──▶ stream-store entry (split fields)
	    └──▶ live bus frame

# Type Catalogue

Identifiers:

	Pubkey      - fixed 32-byte account identifier; base58 string form.
	              ParsePubkey enforces the width, PubkeyFromBytes
	              converts raw wire bytes, String() re-encodes.
	PubkeySet   - set of pubkeys backing predicate clauses, with
	              Contains/Empty/Strings/Clone.

Pipeline units:

	Record         - one admitted event. ID is the transaction
	                 signature (base58) or "{pubkey}:{slot}"; TS is
	                 stamped at admission; Payload is opaque bytes from
	                 the decoder. Uniqueness is not enforced.
	Classification - verified / failed / unknown, derived from the
	                 transaction metadata. Account updates are
	                 verified; a record whose payload failed to
	                 decode is unknown.
	Topic          - "account" or "transaction"; per-interest
	                 partitions derive as "{topic}:{interest_id}".

Interest model:

	Predicate - four pubkey sets (accounts, owners, included and
	            required transaction accounts) plus the IncludeFailed
	            override. Validate rejects a predicate whose three
	            OR-clauses are all empty.
	Interest  - a named predicate with its generation.

Feed events (sealed via the unexported isEvent method):

	AccountUpdate      - pubkey, owner, lamports, executable,
	                     rent_epoch, data, slot. Identifiers arrive as
	                     raw bytes; widths are validated where they
	                     are used (classifier, decoder), never on
	                     receipt.
	TransactionUpdate  - signature, slot, block_time, optional Meta
	                     (err, fee), Message (account keys,
	                     instructions).

# Design Notes

The package is dependency-light by design - fixed-width arrays, plain
maps, no behavior beyond parsing and set algebra - so every other
package can import it without cycles. Events keep raw []byte
identifiers on purpose: a malformed key is an event-level defect the
classifier counts, not a parse failure that could kill a session.

# See Also

  - pkg/classifier - consumes events and predicates, produces records
  - pkg/interest - stores predicates under generations
*/
package types
