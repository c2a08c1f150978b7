package classifier

import (
	"strconv"

	"github.com/mr-tron/base58"

	"github.com/cuemby/ledgertap/pkg/types"
)

// Result describes why an event produced no record.
type Result int

const (
	// Admitted means a record was produced.
	Admitted Result = iota
	// Rejected means the event is well-formed but fails the predicate,
	// or its classification is excluded by policy.
	Rejected
	// Invalid means the event is malformed (wrong identifier width).
	// Callers count these; the worker never fails on them.
	Invalid
	// Discarded means the event kind is not materialized at all.
	Discarded
)

// Classify applies the predicate to a single feed event. On admission it
// returns the record skeleton: topic, id and classification are set, and
// the caller stamps TS, InterestID and Payload. Classify is pure and
// performs no I/O.
func Classify(ev types.Event, pred types.Predicate) (types.Record, Result) {
	switch e := ev.(type) {
	case *types.AccountUpdate:
		return classifyAccount(e, pred)
	case *types.TransactionUpdate:
		return classifyTransaction(e, pred)
	default:
		// Slot ticks, block metadata and anything else the feed grows
		// are dropped to conserve memory.
		return types.Record{}, Discarded
	}
}

func classifyAccount(e *types.AccountUpdate, pred types.Predicate) (types.Record, Result) {
	pubkey, ok := types.PubkeyFromBytes(e.Pubkey)
	if !ok {
		return types.Record{}, Invalid
	}

	matched := pred.Accounts.Contains(pubkey)
	if !matched && !pred.Owners.Empty() {
		owner, ok := types.PubkeyFromBytes(e.Owner)
		if ok && pred.Owners.Contains(owner) {
			matched = true
		}
	}
	if !matched {
		return types.Record{}, Rejected
	}

	return types.Record{
		Topic:          types.TopicAccount,
		ID:             DeriveAccountID(pubkey, e.Slot),
		Classification: types.ClassificationVerified,
	}, Admitted
}

func classifyTransaction(e *types.TransactionUpdate, pred types.Predicate) (types.Record, Result) {
	if len(e.Signature) != types.SignatureLen {
		return types.Record{}, Invalid
	}

	refs := DeriveRefs(e)

	// OR-clause: any of accounts / owners / tx_accounts_included. Owners
	// never match transactions; an owners-only interest admits none.
	matched := false
	for _, ref := range refs {
		if pred.Accounts.Contains(ref) || pred.TxAccountsIncluded.Contains(ref) {
			matched = true
			break
		}
	}
	if !matched {
		return types.Record{}, Rejected
	}

	// AND-clause: every required account must be referenced. This is a
	// deliberate choice; the required set narrows the include clause, it
	// does not widen it.
	if !pred.TxAccountsRequired.Empty() {
		refSet := types.NewPubkeySet(refs...)
		for required := range pred.TxAccountsRequired {
			if !refSet.Contains(required) {
				return types.Record{}, Rejected
			}
		}
	}

	classification := classifyMeta(e.Meta)
	switch classification {
	case types.ClassificationUnknown:
		// No execution metadata: cannot tell success from failure.
		return types.Record{}, Rejected
	case types.ClassificationFailed:
		if !pred.IncludeFailed {
			return types.Record{}, Rejected
		}
	}

	return types.Record{
		Topic:          types.TopicTransaction,
		ID:             DeriveTransactionID(e.Signature),
		Classification: classification,
	}, Admitted
}

func classifyMeta(meta *types.TransactionMeta) types.Classification {
	if meta == nil {
		return types.ClassificationUnknown
	}
	if meta.Err != "" {
		return types.ClassificationFailed
	}
	return types.ClassificationVerified
}

// DeriveID returns the stable identity of an event, or "" for kinds that
// carry none.
func DeriveID(ev types.Event) string {
	switch e := ev.(type) {
	case *types.AccountUpdate:
		pubkey, ok := types.PubkeyFromBytes(e.Pubkey)
		if !ok {
			return ""
		}
		return DeriveAccountID(pubkey, e.Slot)
	case *types.TransactionUpdate:
		if len(e.Signature) != types.SignatureLen {
			return ""
		}
		return DeriveTransactionID(e.Signature)
	default:
		return ""
	}
}

// DeriveAccountID encodes the (pubkey, slot) identity of an account update.
func DeriveAccountID(pubkey types.Pubkey, slot uint64) string {
	return pubkey.String() + ":" + strconv.FormatUint(slot, 10)
}

// DeriveTransactionID encodes a transaction signature in base58.
func DeriveTransactionID(signature []byte) string {
	return base58.Encode(signature)
}

// DeriveRefs returns the account pubkeys referenced by a transaction,
// skipping malformed keys. Used for both admission and indexing.
func DeriveRefs(e *types.TransactionUpdate) []types.Pubkey {
	refs := make([]types.Pubkey, 0, len(e.Message.AccountKeys))
	for _, raw := range e.Message.AccountKeys {
		if pk, ok := types.PubkeyFromBytes(raw); ok {
			refs = append(refs, pk)
		}
	}
	return refs
}
