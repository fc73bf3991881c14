package bridge

import (
	"encoding/json"
	"time"
)

// PeerMeta describes either side of a relay session.
type PeerMeta struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
}

// Session is one live relay connection to a dApp, keyed by PeerID.
type Session struct {
	PeerID       string    `json:"peerId"`
	Meta         PeerMeta  `json:"peerMeta"`
	ChainID      int64     `json:"chainId"`
	RelayURL     string    `json:"relayUrl"`
	WalletPeerID string    `json:"walletPeerId"`
	Accounts     []string  `json:"accounts"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (s Session) clone() Session {
	s.Meta.Icons = append([]string(nil), s.Meta.Icons...)
	s.Accounts = append([]string(nil), s.Accounts...)
	return s
}

// Call is one JSON-RPC call delivered by the relay. PeerID is the dApp the
// reply must be addressed to.
type Call struct {
	ID     int64           `json:"id"`
	PeerID string          `json:"peerId"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// CapabilityResponse is the wallet's answer to a connection proposal.
type CapabilityResponse struct {
	Approved bool     `json:"approved"`
	Accounts []string `json:"accounts"`
	ChainID  int64    `json:"chainId"`
	PeerID   string   `json:"peerId"`
	PeerMeta PeerMeta `json:"peerMeta"`
}

// ProposalRequest is the relay's raw connection proposal.
type ProposalRequest struct {
	Call    Call     `json:"call"`
	PeerID  string   `json:"peerId"`
	Meta    PeerMeta `json:"peerMeta"`
	ChainID *int64   `json:"chainId,omitempty"`
	URL     string   `json:"url"`
}

type EventKind int

const (
	EventConnectionProposed EventKind = iota + 1
	EventConnectFailed
	EventSessionEstablished
	EventSessionEnded
	EventRequestReceived
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionProposed:
		return "connection-proposed"
	case EventConnectFailed:
		return "connect-failed"
	case EventSessionEstablished:
		return "session-established"
	case EventSessionEnded:
		return "session-ended"
	case EventRequestReceived:
		return "request-received"
	default:
		return "unknown"
	}
}

// Event is what a Transport delivers. Only the field matching Kind is set.
type Event struct {
	Kind     EventKind
	Proposal *ProposalRequest
	URL      string
	Err      error
	Session  *Session
	Call     *Call
}

// ConnectionState is the bridge-wide connection indicator.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connected
)

func (s ConnectionState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
