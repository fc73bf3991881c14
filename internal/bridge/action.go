package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/atomic"

	"moff.io/wallet-bridge/internal/chains"
)

type ActionType string

const (
	ActionSignMessage         ActionType = "signMessage"
	ActionSignPersonalMessage ActionType = "signPersonalMessage"
	ActionSignTypedData       ActionType = "signTypedData"
	ActionSignTransaction     ActionType = "signTransaction"
	ActionSendTransaction     ActionType = "sendTransaction"
	ActionSendRawTransaction  ActionType = "sendRawTransaction"
	ActionGetTransactionCount ActionType = "getTransactionCount"
	ActionUnknown             ActionType = "unknown"
)

// TypedDataPayload is the document a signTypedData action asks to sign.
type TypedDataPayload struct {
	Raw    json.RawMessage `json:"raw"`
	Legacy bool            `json:"legacy"`
}

// Action is the wallet-facing unit of work for one relay call. Exactly one
// payload field, matching Type, is set.
type Action struct {
	ID        string            `json:"id"`
	Type      ActionType        `json:"type"`
	Call      Call              `json:"call"`
	Session   Session           `json:"session"`
	Network   chains.Blockchain `json:"network"`
	Account   common.Address    `json:"account"`
	CreatedAt time.Time         `json:"createdAt"`

	Message                hexutil.Bytes           `json:"message,omitempty"`
	TypedData              *TypedDataPayload       `json:"typedData,omitempty"`
	Transaction            *UnconfirmedTransaction `json:"transaction,omitempty"`
	RawTransaction         string                  `json:"rawTransaction,omitempty"`
	TransactionCountFilter string                  `json:"transactionCountFilter,omitempty"`
	Unknown                *UnknownRequest         `json:"unknown,omitempty"`

	replied atomic.Bool
}

// ActionID correlates an action with the relay call it answers.
func ActionID(call Call) string {
	return fmt.Sprintf("%s:%d", call.PeerID, call.ID)
}

// Resolved reports whether a reply or reject has been sent for a.
func (a *Action) Resolved() bool {
	return a.replied.Load()
}

func (a *Action) claim() bool {
	return a.replied.CAS(false, true)
}

func (a *Action) release() {
	a.replied.Store(false)
}
