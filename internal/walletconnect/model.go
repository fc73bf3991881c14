package walletconnect

import (
	"encoding/json"
	"time"

	"go.uber.org/atomic"

	"moff.io/wallet-bridge/internal/bridge"
)

const (
	methodSessionRequest = "wc_sessionRequest"
	methodSessionUpdate  = "wc_sessionUpdate"

	rejectCode    = 4001
	rejectMessage = "User rejected the request."
)

type messageType string

const (
	typePub messageType = "pub"
	typeSub messageType = "sub"
	typeAck messageType = "ack"
)

// message is the relay envelope. Payload carries a JSON encoded wccrypto.Payload.
type message struct {
	Topic   string      `json:"topic"`
	Type    messageType `json:"type"`
	Payload string      `json:"payload"`
	Silent  bool        `json:"silent"`
}

func (msg *message) Marshal() []byte {
	bytes, _ := json.Marshal(msg)
	return bytes
}

type jsonRpcRequest struct {
	Id      int64         `json:"id"`
	JSONRpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func newJSONRpcRequest(method string, params ...interface{}) *jsonRpcRequest {
	r := &jsonRpcRequest{
		Id:      payloadID(),
		JSONRpc: "2.0",
		Method:  method,
		Params:  []interface{}{},
	}
	if len(params) > 0 {
		r.Params = params
	}
	return r
}

type jsonRpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRpcResponse struct {
	Id      int64           `json:"id"`
	JSONRpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRpcError   `json:"error,omitempty"`
}

// sessionParams is the wallet's answer to wc_sessionRequest.
type sessionParams struct {
	Approved  bool            `json:"approved"`
	ChainID   *int64          `json:"chainId"`
	NetworkID int64           `json:"networkId"`
	Accounts  []string        `json:"accounts"`
	RPCURL    string          `json:"rpcUrl"`
	PeerID    string          `json:"peerId,omitempty"`
	PeerMeta  bridge.PeerMeta `json:"peerMeta"`
}

func newSessionParams(resp bridge.CapabilityResponse) sessionParams {
	chainID := resp.ChainID
	accounts := resp.Accounts
	if accounts == nil {
		accounts = []string{}
	}
	return sessionParams{
		Approved: resp.Approved,
		ChainID:  &chainID,
		Accounts: accounts,
		PeerID:   resp.PeerID,
		PeerMeta: resp.PeerMeta,
	}
}

// sessionUpdate is sent on wc_sessionUpdate; approved=false ends the session.
type sessionUpdate struct {
	Approved bool     `json:"approved"`
	ChainID  *int64   `json:"chainId"`
	Accounts []string `json:"accounts"`
}

var lastPayloadID atomic.Int64

// payloadID is a microsecond timestamp, bumped to stay unique within the process.
func payloadID() int64 {
	for {
		last := lastPayloadID.Load()
		id := time.Now().UnixNano() / 1000
		if id <= last {
			id = last + 1
		}
		if lastPayloadID.CAS(last, id) {
			return id
		}
	}
}
