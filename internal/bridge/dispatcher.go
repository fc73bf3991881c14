package bridge

import (
	"context"
	"encoding/json"
)

// Dispatcher delivers the single reply or rejection for an action.
type Dispatcher struct {
	transport Transport
}

func NewDispatcher(t Transport) *Dispatcher {
	return &Dispatcher{transport: t}
}

// Fulfill sends value as the result of a.Call. If value cannot be serialized
// nothing is sent and the action stays open, so the caller may still Reject it.
func (d *Dispatcher) Fulfill(ctx context.Context, a *Action, value interface{}) error {
	if !a.claim() {
		return &Error{Kind: KindAlreadyResolved, PeerID: a.Call.PeerID, Method: a.Call.Method, Reason: "action " + a.ID}
	}
	result, err := json.Marshal(value)
	if err != nil {
		a.release()
		return &Error{Kind: KindReplyConstruction, PeerID: a.Call.PeerID, Method: a.Call.Method, Err: err}
	}
	if err := d.transport.SendReply(ctx, a.Call, result); err != nil {
		return transportError(a.Call.PeerID, "send reply", err)
	}
	return nil
}

// Reject sends the standard rejection for a.Call.
func (d *Dispatcher) Reject(ctx context.Context, a *Action) error {
	if !a.claim() {
		return &Error{Kind: KindAlreadyResolved, PeerID: a.Call.PeerID, Method: a.Call.Method, Reason: "action " + a.ID}
	}
	return d.RejectCall(ctx, a.Call)
}

// RejectCall rejects a call that never became an action.
func (d *Dispatcher) RejectCall(ctx context.Context, call Call) error {
	if err := d.transport.SendReject(ctx, call); err != nil {
		return transportError(call.PeerID, "send reject", err)
	}
	return nil
}
