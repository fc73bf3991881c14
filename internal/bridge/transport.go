package bridge

import (
	"context"
	"encoding/json"
)

// Transport is the relay the bridge runs on. Implementations must be safe for
// concurrent use and deliver events for one peer in arrival order.
type Transport interface {
	Events() <-chan Event
	Connect(ctx context.Context, uri string) error
	Reconnect(ctx context.Context, s Session) error
	Disconnect(ctx context.Context, s Session) error
	// RespondSession answers the handshake call of a proposal.
	RespondSession(ctx context.Context, call Call, resp CapabilityResponse) error
	SendReply(ctx context.Context, call Call, result json.RawMessage) error
	SendReject(ctx context.Context, call Call) error
}

// Approver decides whether a proposal may become a session. It may block until
// the user answers; ctx is cancelled when the bridge stops waiting.
type Approver interface {
	ShouldConnect(ctx context.Context, p *Proposal) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, p *Proposal) (bool, error)

func (f ApproverFunc) ShouldConnect(ctx context.Context, p *Proposal) (bool, error) {
	return f(ctx, p)
}

// Delegate receives the bridge's output. The bridge does not own it: callers
// attach and detach it with SetDelegate, and events are dropped while none is set.
// ActionProduced and BridgeFailed are invoked from one goroutine, in order.
type Delegate interface {
	Approver
	ActionProduced(a *Action)
	BridgeFailed(err error)
}

// Limiter bounds the request rate of one dApp peer.
type Limiter interface {
	Allow(ctx context.Context, peerID string) (bool, error)
}

// Observer receives bridge counters; see internal/metrics.
type Observer interface {
	ProposalResolved(result string)
	RequestReceived(method string)
	ResponseSent(kind string)
	Failed(kind Kind)
	SessionsChanged(n int)
}

type nopObserver struct{}

func (nopObserver) ProposalResolved(string) {}
func (nopObserver) RequestReceived(string)  {}
func (nopObserver) ResponseSent(string)     {}
func (nopObserver) Failed(Kind)             {}
func (nopObserver) SessionsChanged(int)     {}
