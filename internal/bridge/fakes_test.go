package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	walletAccount = common.HexToAddress("0xabc0000000000000000000000000000000000abc")
	recipient     = "0x1111111111111111111111111111111111111111"
)

type respondedSession struct {
	call Call
	resp CapabilityResponse
}

type fakeTransport struct {
	events chan Event

	mu           sync.Mutex
	responses    []respondedSession
	replies      map[int64]json.RawMessage
	rejects      []Call
	disconnects  []Session
	reconnects   []Session
	connects     []string
	connectErr   error
	respondErr   error
	sendReplyErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan Event, 16), replies: map[int64]json.RawMessage{}}
}

func (t *fakeTransport) Events() <-chan Event { return t.events }

func (t *fakeTransport) Connect(_ context.Context, uri string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connects = append(t.connects, uri)
	return nil
}

func (t *fakeTransport) Reconnect(_ context.Context, s Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnects = append(t.reconnects, s)
	return nil
}

func (t *fakeTransport) Disconnect(_ context.Context, s Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects = append(t.disconnects, s)
	return nil
}

func (t *fakeTransport) RespondSession(_ context.Context, call Call, resp CapabilityResponse) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses = append(t.responses, respondedSession{call: call, resp: resp})
	return t.respondErr
}

func (t *fakeTransport) SendReply(_ context.Context, call Call, result json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendReplyErr != nil {
		return t.sendReplyErr
	}
	t.replies[call.ID] = result
	return nil
}

func (t *fakeTransport) SendReject(_ context.Context, call Call) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejects = append(t.rejects, call)
	return nil
}

func (t *fakeTransport) responded() []respondedSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]respondedSession(nil), t.responses...)
}

func (t *fakeTransport) rejected() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.rejects...)
}

func (t *fakeTransport) disconnected() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Session(nil), t.disconnects...)
}

func (t *fakeTransport) reply(id int64) (json.RawMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.replies[id]
	return r, ok
}

type fakeDelegate struct {
	approve  bool
	asked    chan *Proposal
	actions  chan *Action
	failures chan error
}

func newFakeDelegate(approve bool) *fakeDelegate {
	return &fakeDelegate{
		approve:  approve,
		asked:    make(chan *Proposal, 16),
		actions:  make(chan *Action, 16),
		failures: make(chan error, 16),
	}
}

func (d *fakeDelegate) ShouldConnect(_ context.Context, p *Proposal) (bool, error) {
	d.asked <- p
	return d.approve, nil
}

func (d *fakeDelegate) ActionProduced(a *Action) { d.actions <- a }

func (d *fakeDelegate) BridgeFailed(err error) { d.failures <- err }

func (d *fakeDelegate) nextAction() *Action {
	select {
	case a := <-d.actions:
		return a
	case <-time.After(2 * time.Second):
		return nil
	}
}

func (d *fakeDelegate) nextFailure() error {
	select {
	case err := <-d.failures:
		return err
	case <-time.After(2 * time.Second):
		return nil
	}
}

type limiterFunc func(ctx context.Context, peerID string) (bool, error)

func (f limiterFunc) Allow(ctx context.Context, peerID string) (bool, error) {
	return f(ctx, peerID)
}

func chainID(id int64) *int64 {
	return &id
}

func proposalEvent(peerID, url string, chain *int64) Event {
	return Event{Kind: EventConnectionProposed, Proposal: &ProposalRequest{
		Call:    Call{ID: 1, PeerID: peerID, Method: "wc_sessionRequest"},
		PeerID:  peerID,
		Meta:    PeerMeta{Name: "Uniswap", URL: "https://app.uniswap.org"},
		ChainID: chain,
		URL:     url,
	}}
}

func requestEvent(peerID string, id int64, method, params string) Event {
	return Event{Kind: EventRequestReceived, Call: &Call{ID: id, PeerID: peerID, Method: method, Params: json.RawMessage(params)}}
}
