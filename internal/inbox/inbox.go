// Package inbox is a headless wallet front end: it parks connection proposals
// and actions until an operator decides on them.
package inbox

import (
	"context"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/linkedhashmap"

	"moff.io/wallet-bridge/internal/bridge"
	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
)

const defaultMaxFailures = 100

var ErrNotFound = errors.New("not found")

// Responder sends the outcome of an action; *bridge.Bridge implements it.
type Responder interface {
	Fulfill(ctx context.Context, a *bridge.Action, value interface{}) error
	Reject(ctx context.Context, a *bridge.Action) error
}

type Proposal struct {
	ID        string          `json:"id"`
	PeerID    string          `json:"peerId"`
	Meta      bridge.PeerMeta `json:"peerMeta"`
	ChainID   *int64          `json:"chainId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Failure struct {
	At      time.Time   `json:"at"`
	Kind    bridge.Kind `json:"kind"`
	Message string      `json:"message"`
}

type pending struct {
	proposal *bridge.Proposal
	decision chan bool
}

// Inbox implements bridge.Delegate.
type Inbox struct {
	responder   Responder
	maxFailures int
	now         func() time.Time

	mu        sync.Mutex
	proposals *linkedhashmap.Map
	actions   *linkedhashmap.Map
	failures  []Failure
}

var _ bridge.Delegate = (*Inbox)(nil)

func New(responder Responder) *Inbox {
	return &Inbox{
		responder:   responder,
		maxFailures: defaultMaxFailures,
		now:         time.Now,
		proposals:   linkedhashmap.New(),
		actions:     linkedhashmap.New(),
	}
}

// ShouldConnect parks p until Decide is called. Cancellation declines.
func (in *Inbox) ShouldConnect(ctx context.Context, p *bridge.Proposal) (bool, error) {
	w := &pending{proposal: p, decision: make(chan bool, 1)}
	in.mu.Lock()
	in.proposals.Put(p.ID, w)
	in.mu.Unlock()
	log.Infof("inbox - proposal %s from %s waiting for approval", p.ID, p.Request.Meta.Name)

	defer func() {
		in.mu.Lock()
		in.proposals.Remove(p.ID)
		in.mu.Unlock()
	}()
	select {
	case approved := <-w.decision:
		return approved, nil
	case <-ctx.Done():
		return false, nil
	}
}

// Decide answers a parked proposal.
func (in *Inbox) Decide(id string, approve bool) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	v, ok := in.proposals.Get(id)
	if !ok {
		return errors.Wrapf(ErrNotFound, "proposal %s", id)
	}
	in.proposals.Remove(id)
	v.(*pending).decision <- approve
	return nil
}

func (in *Inbox) ActionProduced(a *bridge.Action) {
	in.mu.Lock()
	in.actions.Put(a.ID, a)
	in.mu.Unlock()
	log.Infof("inbox - action %s %s from %s", a.ID, a.Type, a.Session.Meta.Name)
}

func (in *Inbox) BridgeFailed(err error) {
	f := Failure{At: in.now(), Kind: bridge.KindTransport, Message: err.Error()}
	var e *bridge.Error
	if errors.As(err, &e) {
		f.Kind = e.Kind
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.failures = append(in.failures, f)
	if over := len(in.failures) - in.maxFailures; over > 0 {
		in.failures = append([]Failure(nil), in.failures[over:]...)
	}
}

// Fulfill replies to the action with value. An action whose value could not be
// serialized stays parked so it can still be rejected.
func (in *Inbox) Fulfill(ctx context.Context, id string, value interface{}) error {
	a, err := in.action(id)
	if err != nil {
		return err
	}
	err = in.responder.Fulfill(ctx, a, value)
	in.settle(a)
	return err
}

func (in *Inbox) Reject(ctx context.Context, id string) error {
	a, err := in.action(id)
	if err != nil {
		return err
	}
	err = in.responder.Reject(ctx, a)
	in.settle(a)
	return err
}

func (in *Inbox) action(id string) (*bridge.Action, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	v, ok := in.actions.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "action %s", id)
	}
	return v.(*bridge.Action), nil
}

func (in *Inbox) settle(a *bridge.Action) {
	if !a.Resolved() {
		return
	}
	in.mu.Lock()
	in.actions.Remove(a.ID)
	in.mu.Unlock()
}

func (in *Inbox) Proposals() []Proposal {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]Proposal, 0, in.proposals.Size())
	it := in.proposals.Iterator()
	for it.Next() {
		p := it.Value().(*pending).proposal
		out = append(out, Proposal{
			ID:        p.ID,
			PeerID:    p.Request.PeerID,
			Meta:      p.Request.Meta,
			ChainID:   p.Request.ChainID,
			CreatedAt: p.CreatedAt,
		})
	}
	return out
}

func (in *Inbox) Actions() []*bridge.Action {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]*bridge.Action, 0, in.actions.Size())
	it := in.actions.Iterator()
	for it.Next() {
		out = append(out, it.Value().(*bridge.Action))
	}
	return out
}

func (in *Inbox) Failures() []Failure {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]Failure(nil), in.failures...)
}
