package decoder

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"

	"github.com/cuemby/ledgertap/pkg/types"
)

// Decoder turns a feed event into the opaque payload carried by its
// record. Implementations are pure; an error yields a record with an
// empty payload rather than a failed worker.
type Decoder interface {
	Decode(ev types.Event) ([]byte, error)
}

// Func adapts a function to the Decoder interface.
type Func func(ev types.Event) ([]byte, error)

// Decode implements Decoder.
func (f Func) Decode(ev types.Event) ([]byte, error) {
	return f(ev)
}

// Registry routes account updates to a per-owner decoder, falling back to
// a default for everything else. Transactions always use the fallback.
type Registry struct {
	mu       sync.RWMutex
	byOwner  map[types.Pubkey]Decoder
	fallback Decoder
}

// NewRegistry creates a registry with the JSON passthrough as fallback.
func NewRegistry() *Registry {
	return &Registry{
		byOwner:  make(map[types.Pubkey]Decoder),
		fallback: Func(EncodeJSON),
	}
}

// Register installs a decoder for account updates owned by owner.
func (r *Registry) Register(owner types.Pubkey, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byOwner[owner] = d
}

// SetFallback replaces the default decoder.
func (r *Registry) SetFallback(d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = d
}

// Decode implements Decoder.
func (r *Registry) Decode(ev types.Event) ([]byte, error) {
	if acc, ok := ev.(*types.AccountUpdate); ok {
		if owner, ok := types.PubkeyFromBytes(acc.Owner); ok {
			r.mu.RLock()
			d, found := r.byOwner[owner]
			r.mu.RUnlock()
			if found {
				return d.Decode(ev)
			}
		}
	}

	r.mu.RLock()
	fallback := r.fallback
	r.mu.RUnlock()
	return fallback.Decode(ev)
}

// jsonAccount and jsonTransaction are the passthrough payload shapes.
// Identifiers are base58, raw data is base64 via encoding/json.
type jsonAccount struct {
	Pubkey     string `json:"pubkey"`
	Owner      string `json:"owner"`
	Lamports   uint64 `json:"lamports"`
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rent_epoch"`
	Data       []byte `json:"data,omitempty"`
	Slot       uint64 `json:"slot"`
}

type jsonTransaction struct {
	Signature string            `json:"signature"`
	Slot      uint64            `json:"slot"`
	BlockTime int64             `json:"block_time,omitempty"`
	Err       string            `json:"err,omitempty"`
	Fee       uint64            `json:"fee"`
	Accounts  []string          `json:"accounts"`
	Instr     []jsonInstruction `json:"instructions,omitempty"`
}

type jsonInstruction struct {
	ProgramIDIndex int    `json:"program_id_index"`
	Accounts       []int  `json:"accounts,omitempty"`
	Data           []byte `json:"data,omitempty"`
}

// EncodeJSON re-encodes the raw event as JSON. It is the default payload
// when no program-specific decoder is registered.
func EncodeJSON(ev types.Event) ([]byte, error) {
	switch e := ev.(type) {
	case *types.AccountUpdate:
		pubkey, ok := types.PubkeyFromBytes(e.Pubkey)
		if !ok {
			return nil, fmt.Errorf("account update with malformed pubkey")
		}
		out := jsonAccount{
			Pubkey:     pubkey.String(),
			Lamports:   e.Lamports,
			Executable: e.Executable,
			RentEpoch:  e.RentEpoch,
			Data:       e.Data,
			Slot:       e.Slot,
		}
		if owner, ok := types.PubkeyFromBytes(e.Owner); ok {
			out.Owner = owner.String()
		}
		return json.Marshal(out)

	case *types.TransactionUpdate:
		out := jsonTransaction{
			Signature: encodeSignature(e.Signature),
			Slot:      e.Slot,
			BlockTime: e.BlockTime,
		}
		if e.Meta != nil {
			out.Err = e.Meta.Err
			out.Fee = e.Meta.Fee
		}
		for _, raw := range e.Message.AccountKeys {
			if pk, ok := types.PubkeyFromBytes(raw); ok {
				out.Accounts = append(out.Accounts, pk.String())
			}
		}
		for _, in := range e.Message.Instructions {
			out.Instr = append(out.Instr, jsonInstruction{
				ProgramIDIndex: in.ProgramIDIndex,
				Accounts:       in.Accounts,
				Data:           in.Data,
			})
		}
		return json.Marshal(out)

	default:
		return nil, fmt.Errorf("no encoding for event kind %T", ev)
	}
}

func encodeSignature(sig []byte) string {
	return base58.Encode(sig)
}
