package classifier

import (
	"strconv"
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

func pkBytes(b byte) []byte {
	p := pk(b)
	return p[:]
}

func sig(b byte) []byte {
	s := make([]byte, types.SignatureLen)
	for i := range s {
		s[i] = b
	}
	return s
}

func txEvent(signature []byte, meta *types.TransactionMeta, refs ...byte) *types.TransactionUpdate {
	keys := make([][]byte, 0, len(refs))
	for _, r := range refs {
		keys = append(keys, pkBytes(r))
	}
	return &types.TransactionUpdate{
		Signature: signature,
		Slot:      100,
		Meta:      meta,
		Message:   types.TransactionMessage{AccountKeys: keys},
	}
}

func okMeta() *types.TransactionMeta {
	return &types.TransactionMeta{Fee: 5000}
}

func TestClassifyAccountByPubkey(t *testing.T) {
	ev := &types.AccountUpdate{Pubkey: pkBytes(1), Owner: pkBytes(2), Slot: 42}
	pred := types.Predicate{Accounts: types.NewPubkeySet(pk(1))}

	rec, res := Classify(ev, pred)
	if res != Admitted {
		t.Fatalf("Classify() = %v, want Admitted", res)
	}
	if rec.Topic != types.TopicAccount {
		t.Errorf("Topic = %q, want %q", rec.Topic, types.TopicAccount)
	}
	if rec.Classification != types.ClassificationVerified {
		t.Errorf("Classification = %q, want verified", rec.Classification)
	}
	want := pk(1).String() + ":" + strconv.Itoa(42)
	if rec.ID != want {
		t.Errorf("ID = %q, want %q", rec.ID, want)
	}
}

func TestClassifyAccountByOwner(t *testing.T) {
	ev := &types.AccountUpdate{Pubkey: pkBytes(1), Owner: pkBytes(2), Slot: 42}
	pred := types.Predicate{Owners: types.NewPubkeySet(pk(2))}

	if _, res := Classify(ev, pred); res != Admitted {
		t.Errorf("Classify() = %v, want Admitted for owner match", res)
	}

	pred = types.Predicate{Owners: types.NewPubkeySet(pk(9))}
	if _, res := Classify(ev, pred); res != Rejected {
		t.Errorf("Classify() = %v, want Rejected for owner mismatch", res)
	}
}

func TestClassifyAccountMissingPubkey(t *testing.T) {
	ev := &types.AccountUpdate{Pubkey: []byte{1, 2, 3}, Owner: pkBytes(2), Slot: 42}
	pred := types.Predicate{Accounts: types.NewPubkeySet(pk(1))}

	if _, res := Classify(ev, pred); res != Invalid {
		t.Errorf("Classify() = %v, want Invalid for truncated pubkey", res)
	}
}

func TestClassifyTransactionInclude(t *testing.T) {
	pred := types.Predicate{TxAccountsIncluded: types.NewPubkeySet(pk(1))}

	verified := txEvent(sig(7), okMeta(), 1, 2)
	rec, res := Classify(verified, pred)
	if res != Admitted {
		t.Fatalf("Classify() = %v, want Admitted", res)
	}
	if rec.Topic != types.TopicTransaction {
		t.Errorf("Topic = %q, want %q", rec.Topic, types.TopicTransaction)
	}
	if rec.ID != DeriveTransactionID(sig(7)) {
		t.Errorf("ID = %q, want signature encoding", rec.ID)
	}

	unrelated := txEvent(sig(8), okMeta(), 2, 3)
	if _, res := Classify(unrelated, pred); res != Rejected {
		t.Errorf("Classify() = %v, want Rejected for unrelated refs", res)
	}
}

// The required set narrows the include clause: every required account must
// be referenced, in addition to any include match.
func TestClassifyTransactionRequiredAndsWithInclude(t *testing.T) {
	pred := types.Predicate{
		TxAccountsIncluded: types.NewPubkeySet(pk(1)),
		TxAccountsRequired: types.NewPubkeySet(pk(1), pk(2)),
	}

	if _, res := Classify(txEvent(sig(1), okMeta(), 1, 2, 3), pred); res != Admitted {
		t.Errorf("Classify() = %v, want Admitted when all required refs present", res)
	}
	if _, res := Classify(txEvent(sig(2), okMeta(), 1, 3), pred); res != Rejected {
		t.Errorf("Classify() = %v, want Rejected when a required ref is missing", res)
	}
}

func TestClassifyTransactionFailed(t *testing.T) {
	failed := &types.TransactionMeta{Err: "InstructionError"}
	pred := types.Predicate{TxAccountsIncluded: types.NewPubkeySet(pk(1))}

	if _, res := Classify(txEvent(sig(1), failed, 1), pred); res != Rejected {
		t.Errorf("Classify() = %v, want Rejected for failed tx by default", res)
	}

	pred.IncludeFailed = true
	rec, res := Classify(txEvent(sig(1), failed, 1), pred)
	if res != Admitted {
		t.Fatalf("Classify() = %v, want Admitted with IncludeFailed", res)
	}
	if rec.Classification != types.ClassificationFailed {
		t.Errorf("Classification = %q, want failed", rec.Classification)
	}
}

func TestClassifyTransactionMissingMeta(t *testing.T) {
	pred := types.Predicate{
		TxAccountsIncluded: types.NewPubkeySet(pk(1)),
		IncludeFailed:      true,
	}

	if _, res := Classify(txEvent(sig(1), nil, 1), pred); res != Rejected {
		t.Errorf("Classify() = %v, want Rejected when meta is absent", res)
	}
}

func TestClassifyTransactionBadSignature(t *testing.T) {
	pred := types.Predicate{TxAccountsIncluded: types.NewPubkeySet(pk(1))}
	ev := txEvent([]byte{1, 2, 3}, okMeta(), 1)

	if _, res := Classify(ev, pred); res != Invalid {
		t.Errorf("Classify() = %v, want Invalid for short signature", res)
	}
}

func TestClassifyDiscardsOtherKinds(t *testing.T) {
	pred := types.Predicate{Accounts: types.NewPubkeySet(pk(1))}

	if _, res := Classify(nil, pred); res != Discarded {
		t.Errorf("Classify() = %v, want Discarded for unknown event kind", res)
	}
}

// Classification is a pure function of event and predicate: repeated calls
// agree on topic, id and classification.
func TestClassifyDeterministic(t *testing.T) {
	pred := types.Predicate{TxAccountsIncluded: types.NewPubkeySet(pk(1))}
	ev := txEvent(sig(9), okMeta(), 1, 2)

	first, res := Classify(ev, pred)
	if res != Admitted {
		t.Fatalf("Classify() = %v, want Admitted", res)
	}
	second, _ := Classify(ev, pred)

	if first.Topic != second.Topic || first.ID != second.ID || first.Classification != second.Classification {
		t.Errorf("repeated classification diverged: %+v vs %+v", first, second)
	}
}

func TestDeriveRefsSkipsMalformedKeys(t *testing.T) {
	ev := &types.TransactionUpdate{
		Signature: sig(1),
		Message: types.TransactionMessage{
			AccountKeys: [][]byte{pkBytes(1), {0xde, 0xad}, pkBytes(2)},
		},
	}

	refs := DeriveRefs(ev)
	if len(refs) != 2 {
		t.Fatalf("DeriveRefs() returned %d refs, want 2", len(refs))
	}
	if refs[0] != pk(1) || refs[1] != pk(2) {
		t.Errorf("DeriveRefs() = %v, want well-formed keys in order", refs)
	}
}
