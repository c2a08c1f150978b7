package types

import (
	"fmt"
	"sort"

	"github.com/mr-tron/base58"
)

// Topics the pipeline writes to. Per-interest partitions derive from these
// as "{base}:{interest_id}".
const (
	TopicAccount     = "account"
	TopicTransaction = "transaction"
)

// Identifier widths on the wire. Control-plane input of any other width
// fails to parse; feed events carrying one are classified Invalid.
const (
	PubkeyLen    = 32
	SignatureLen = 64
)

// Classification labels a record according to the outcome recorded in the
// event's transaction metadata. Account updates are Verified. A record
// whose payload failed to decode is Unknown whatever its topic.
type Classification string

const (
	ClassificationVerified Classification = "verified"
	ClassificationFailed   Classification = "failed"
	ClassificationUnknown  Classification = "unknown"
)

// Pubkey is a fixed-width account identifier.
type Pubkey [PubkeyLen]byte

// ParsePubkey decodes a base58 pubkey and enforces its width.
func ParsePubkey(s string) (Pubkey, error) {
	var pk Pubkey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("invalid pubkey %q: %w", s, err)
	}
	if len(raw) != PubkeyLen {
		return pk, fmt.Errorf("invalid pubkey %q: %d bytes, want %d", s, len(raw), PubkeyLen)
	}
	copy(pk[:], raw)
	return pk, nil
}

// PubkeyFromBytes converts a raw byte slice into a Pubkey. The second
// return value is false when the slice has the wrong width.
func PubkeyFromBytes(b []byte) (Pubkey, bool) {
	var pk Pubkey
	if len(b) != PubkeyLen {
		return pk, false
	}
	copy(pk[:], b)
	return pk, true
}

// String returns the base58 encoding of the pubkey.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// PubkeySet is a set of pubkeys used by predicate clauses.
type PubkeySet map[Pubkey]struct{}

// NewPubkeySet builds a set from the given keys.
func NewPubkeySet(keys ...Pubkey) PubkeySet {
	s := make(PubkeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// ParsePubkeySet decodes a list of base58 strings into a set.
func ParsePubkeySet(keys []string) (PubkeySet, error) {
	s := make(PubkeySet, len(keys))
	for _, raw := range keys {
		pk, err := ParsePubkey(raw)
		if err != nil {
			return nil, err
		}
		s[pk] = struct{}{}
	}
	return s, nil
}

// Contains reports whether k is in the set.
func (s PubkeySet) Contains(k Pubkey) bool {
	_, ok := s[k]
	return ok
}

// Empty reports whether the set constrains nothing.
func (s PubkeySet) Empty() bool {
	return len(s) == 0
}

// Strings returns the sorted base58 encodings of the set members.
func (s PubkeySet) Strings() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k.String())
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy of the set.
func (s PubkeySet) Clone() PubkeySet {
	out := make(PubkeySet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Record is the unit flowing through the pipeline: one admitted event,
// stamped at admission and carried unchanged to the stream-store and the
// live bus.
type Record struct {
	Topic          string
	ID             string
	TS             int64 // milliseconds since epoch, assigned at admission
	InterestID     string
	Classification Classification
	Payload        []byte
}

// Predicate describes which feed events an interest admits. An event is
// admitted when any of Accounts, Owners or TxAccountsIncluded matches and,
// for transactions, every member of TxAccountsRequired is referenced.
// TxAccountsRequired deliberately ANDs with the include clause rather than
// widening it.
type Predicate struct {
	Accounts           PubkeySet
	Owners             PubkeySet
	TxAccountsIncluded PubkeySet
	TxAccountsRequired PubkeySet

	// IncludeFailed admits transactions whose meta records an error.
	// Off by default.
	IncludeFailed bool
}

// Validate rejects predicates that constrain nothing. At least one of the
// three OR-clauses must be non-empty; TxAccountsRequired alone cannot
// select events.
func (p Predicate) Validate() error {
	if p.Accounts.Empty() && p.Owners.Empty() && p.TxAccountsIncluded.Empty() {
		return fmt.Errorf("predicate constrains nothing: accounts, account_owners and transaction_accounts_include are all empty")
	}
	return nil
}

// Clone returns a deep copy of the predicate.
func (p Predicate) Clone() Predicate {
	return Predicate{
		Accounts:           p.Accounts.Clone(),
		Owners:             p.Owners.Clone(),
		TxAccountsIncluded: p.TxAccountsIncluded.Clone(),
		TxAccountsRequired: p.TxAccountsRequired.Clone(),
		IncludeFailed:      p.IncludeFailed,
	}
}

// Interest is a named predicate with a generation. The generation
// increases on every upsert and is the basis for retiring workers bound to
// a superseded predicate.
type Interest struct {
	ID         string
	Predicate  Predicate
	Generation uint64
}

// Event is a single typed update received from the chain feed. Only
// account and transaction updates are materialized; the classifier
// discards everything else.
type Event interface {
	isEvent()
}

// AccountUpdate reports a change to one account. Pubkey and Owner arrive
// as raw bytes; width is validated at classification time.
type AccountUpdate struct {
	Pubkey     []byte
	Owner      []byte
	Lamports   uint64
	Executable bool
	RentEpoch  uint64
	Data       []byte
	Slot       uint64
}

func (*AccountUpdate) isEvent() {}

// TransactionUpdate reports one processed transaction. Meta is nil when
// the feed omitted execution metadata.
type TransactionUpdate struct {
	Signature []byte
	Slot      uint64
	BlockTime int64
	Meta      *TransactionMeta
	Message   TransactionMessage
}

func (*TransactionUpdate) isEvent() {}

// TransactionMeta carries the execution outcome. Err is empty when the
// transaction succeeded.
type TransactionMeta struct {
	Err string
	Fee uint64
}

// TransactionMessage holds the referenced accounts and instructions.
type TransactionMessage struct {
	AccountKeys  [][]byte
	Instructions []Instruction
}

// Instruction is one instruction within a transaction message. Accounts
// and ProgramIDIndex index into the message's AccountKeys.
type Instruction struct {
	ProgramIDIndex int
	Accounts       []int
	Data           []byte
}
