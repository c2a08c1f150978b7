package decoder

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/cuemby/ledgertap/pkg/types"
)

func pk(b byte) types.Pubkey {
	var p types.Pubkey
	for i := range p {
		p[i] = b
	}
	return p
}

func account(owner byte) *types.AccountUpdate {
	key := pk(1)
	own := pk(owner)
	return &types.AccountUpdate{
		Pubkey:   key[:],
		Owner:    own[:],
		Lamports: 100,
		Slot:     9,
	}
}

func TestRegistryRoutesByOwner(t *testing.T) {
	reg := NewRegistry()
	reg.Register(pk(2), Func(func(ev types.Event) ([]byte, error) {
		return []byte("custom"), nil
	}))

	out, err := reg.Decode(account(2))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if string(out) != "custom" {
		t.Errorf("Decode() = %q, want owner-specific decoder output", out)
	}

	// A different owner falls back to the JSON passthrough.
	out, err = reg.Decode(account(3))
	if err != nil {
		t.Fatalf("Decode() fallback error: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("fallback payload is not JSON: %v", err)
	}
	if decoded["pubkey"] != pk(1).String() {
		t.Errorf("fallback payload pubkey = %v", decoded["pubkey"])
	}
}

func TestRegistryDecoderErrorPropagates(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("unparseable account data")
	reg.Register(pk(2), Func(func(ev types.Event) ([]byte, error) {
		return nil, boom
	}))

	if _, err := reg.Decode(account(2)); !errors.Is(err, boom) {
		t.Errorf("Decode() = %v, want decoder error surfaced to the worker", err)
	}
}

func TestEncodeJSONTransaction(t *testing.T) {
	sig := make([]byte, types.SignatureLen)
	sig[0] = 9
	key := pk(4)

	ev := &types.TransactionUpdate{
		Signature: sig,
		Slot:      33,
		Meta:      &types.TransactionMeta{Fee: 5000},
		Message: types.TransactionMessage{
			AccountKeys: [][]byte{key[:]},
			Instructions: []types.Instruction{
				{ProgramIDIndex: 0, Accounts: []int{0}},
			},
		},
	}

	out, err := EncodeJSON(ev)
	if err != nil {
		t.Fatalf("EncodeJSON() error: %v", err)
	}

	var decoded struct {
		Signature string   `json:"signature"`
		Slot      uint64   `json:"slot"`
		Fee       uint64   `json:"fee"`
		Accounts  []string `json:"accounts"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.Slot != 33 || decoded.Fee != 5000 {
		t.Errorf("decoded = %+v", decoded)
	}
	if len(decoded.Accounts) != 1 || decoded.Accounts[0] != key.String() {
		t.Errorf("accounts = %v", decoded.Accounts)
	}
}
