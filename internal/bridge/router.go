package bridge

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"moff.io/wallet-bridge/internal/chains"
)

// Router converts decoded requests on an established session into actions.
type Router struct {
	fallbackAccount common.Address
	now             func() time.Time
}

func NewRouter(accounts []common.Address) *Router {
	r := &Router{now: time.Now}
	if len(accounts) > 0 {
		r.fallbackAccount = accounts[0]
	}
	return r
}

// Route maps req 1:1 onto an Action. A nil session means the call arrived without
// an established session and fails with connection-invalid.
func (r *Router) Route(session *Session, call Call, req Request) (*Action, error) {
	if session == nil {
		return nil, connectionInvalid(call.PeerID, call.Method)
	}
	a := &Action{
		ID:        ActionID(call),
		Call:      call,
		Session:   session.clone(),
		Network:   resolveNetwork(session.ChainID),
		Account:   r.walletAccount(session),
		CreatedAt: r.now(),
	}
	provenance := TxContext{Kind: TxContextDApp, DAppName: session.Meta.Name, DAppURL: session.Meta.URL}

	switch v := req.(type) {
	case SignMessageRequest:
		a.Type = ActionSignMessage
		a.Message = v.Message
	case SignPersonalMessageRequest:
		a.Type = ActionSignPersonalMessage
		a.Message = v.Message
	case SignTypedDataRequest:
		a.Type = ActionSignTypedData
		a.TypedData = &TypedDataPayload{Raw: v.Raw, Legacy: v.Legacy}
	case SignTransactionRequest:
		a.Type = ActionSignTransaction
		a.Transaction = v.Transaction.WithContext(provenance)
	case SendTransactionRequest:
		a.Type = ActionSendTransaction
		a.Transaction = v.Transaction.WithContext(provenance)
	case SendRawTransactionRequest:
		a.Type = ActionSendRawTransaction
		a.RawTransaction = v.Raw
	case GetTransactionCountRequest:
		a.Type = ActionGetTransactionCount
		a.TransactionCountFilter = v.Filter
	case UnknownRequest:
		a.Type = ActionUnknown
		a.Unknown = &v
	default:
		a.Type = ActionUnknown
		a.Unknown = &UnknownRequest{Name: req.Method(), Params: call.Params}
	}
	return a, nil
}

func (r *Router) walletAccount(s *Session) common.Address {
	if len(s.Accounts) > 0 && common.IsHexAddress(s.Accounts[0]) {
		return common.HexToAddress(s.Accounts[0])
	}
	return r.fallbackAccount
}

func resolveNetwork(chainID int64) chains.Blockchain {
	if c, ok := chains.Lookup(chainID); ok {
		return c
	}
	return chains.Blockchain{ID: chainID, Name: "unknown"}
}
