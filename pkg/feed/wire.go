package feed

import (
	"github.com/cuemby/ledgertap/pkg/types"
)

// subscribeRequest is the filter sent when opening a session. The shapes
// mirror the feed's subscribe API: named account and transaction filters
// keyed by the interest id.
type subscribeRequest struct {
	Accounts     map[string]accountFilter     `json:"accounts,omitempty"`
	Transactions map[string]transactionFilter `json:"transactions,omitempty"`
}

type accountFilter struct {
	Account []string `json:"account,omitempty"`
	Owner   []string `json:"owner,omitempty"`
}

type transactionFilter struct {
	Vote            bool     `json:"vote"`
	Failed          bool     `json:"failed"`
	AccountInclude  []string `json:"account_include,omitempty"`
	AccountRequired []string `json:"account_required,omitempty"`
}

// buildSubscribeRequest scopes the session to the predicate so the feed
// pre-filters server-side. Admission is still re-checked locally per
// event; the feed filter is a bandwidth optimization, not the authority.
func buildSubscribeRequest(interestID string, pred types.Predicate) *subscribeRequest {
	req := &subscribeRequest{}

	if !pred.Accounts.Empty() || !pred.Owners.Empty() {
		req.Accounts = map[string]accountFilter{
			interestID: {
				Account: pred.Accounts.Strings(),
				Owner:   pred.Owners.Strings(),
			},
		}
	}

	// The accounts set also admits transactions referencing those
	// accounts, so it joins the include list.
	include := pred.TxAccountsIncluded.Clone()
	for pk := range pred.Accounts {
		include[pk] = struct{}{}
	}
	if !include.Empty() || !pred.TxAccountsRequired.Empty() {
		req.Transactions = map[string]transactionFilter{
			interestID: {
				Vote:            false,
				Failed:          pred.IncludeFailed,
				AccountInclude:  include.Strings(),
				AccountRequired: pred.TxAccountsRequired.Strings(),
			},
		}
	}

	return req
}

// update is one message off the subscribe stream.
type update struct {
	Account     *accountUpdateMsg     `json:"account,omitempty"`
	Transaction *transactionUpdateMsg `json:"transaction,omitempty"`
	Ping        *struct{}             `json:"ping,omitempty"`
}

type accountUpdateMsg struct {
	Slot    uint64         `json:"slot"`
	Account accountInfoMsg `json:"account"`
}

type accountInfoMsg struct {
	Pubkey     []byte `json:"pubkey"`
	Owner      []byte `json:"owner"`
	Lamports   uint64 `json:"lamports"`
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rent_epoch"`
	Data       []byte `json:"data"`
}

func (m *accountUpdateMsg) toEvent() types.Event {
	return &types.AccountUpdate{
		Pubkey:     m.Account.Pubkey,
		Owner:      m.Account.Owner,
		Lamports:   m.Account.Lamports,
		Executable: m.Account.Executable,
		RentEpoch:  m.Account.RentEpoch,
		Data:       m.Account.Data,
		Slot:       m.Slot,
	}
}

type transactionUpdateMsg struct {
	Slot        uint64             `json:"slot"`
	BlockTime   int64              `json:"block_time"`
	Transaction transactionInfoMsg `json:"transaction"`
}

type transactionInfoMsg struct {
	Signature []byte                `json:"signature"`
	Meta      *transactionMetaMsg   `json:"meta,omitempty"`
	Message   transactionMessageMsg `json:"message"`
}

type transactionMetaMsg struct {
	Err string `json:"err,omitempty"`
	Fee uint64 `json:"fee"`
}

type transactionMessageMsg struct {
	AccountKeys  [][]byte         `json:"account_keys"`
	Instructions []instructionMsg `json:"instructions,omitempty"`
}

type instructionMsg struct {
	ProgramIDIndex int    `json:"program_id_index"`
	Accounts       []int  `json:"accounts,omitempty"`
	Data           []byte `json:"data,omitempty"`
}

func (m *transactionUpdateMsg) toEvent() types.Event {
	ev := &types.TransactionUpdate{
		Signature: m.Transaction.Signature,
		Slot:      m.Slot,
		BlockTime: m.BlockTime,
		Message: types.TransactionMessage{
			AccountKeys: m.Transaction.Message.AccountKeys,
		},
	}
	if m.Transaction.Meta != nil {
		ev.Meta = &types.TransactionMeta{
			Err: m.Transaction.Meta.Err,
			Fee: m.Transaction.Meta.Fee,
		}
	}
	for _, in := range m.Transaction.Message.Instructions {
		ev.Message.Instructions = append(ev.Message.Instructions, types.Instruction{
			ProgramIDIndex: in.ProgramIDIndex,
			Accounts:       in.Accounts,
			Data:           in.Data,
		})
	}
	return ev
}
