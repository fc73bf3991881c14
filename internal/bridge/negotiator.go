package bridge

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"moff.io/wallet-bridge/internal/chains"
	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
)

type ProposalState int32

const (
	ProposalProposed ProposalState = iota
	ProposalAwaitingApproval
	ProposalApproved
	ProposalDeclined
)

func (s ProposalState) String() string {
	switch s {
	case ProposalProposed:
		return "proposed"
	case ProposalAwaitingApproval:
		return "awaiting-approval"
	case ProposalApproved:
		return "approved"
	case ProposalDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

// Decline reasons recorded on an Outcome.
const (
	DeclineUnsupportedChain = "unsupported-chain"
	DeclineByApprover       = "declined"
	DeclineNoApprover       = "no-approver"
	DeclineApproverError    = "approver-error"
	DeclineTimeout          = "approval-timeout"
)

var errApprovalTimeout = errors.New("approval timed out")

// Proposal is one connection attempt. While awaiting approval it holds a
// continuation that is consumed by the first Resolve; later calls fail.
type Proposal struct {
	ID        string
	Request   ProposalRequest
	CreatedAt time.Time

	state    atomic.Int32
	resolved atomic.Bool
	resolve  func(approved bool, err error)
}

func (p *Proposal) State() ProposalState {
	return ProposalState(p.state.Load())
}

// RequestedChain returns the chain id the dApp asked for, if any.
func (p *Proposal) RequestedChain() (int64, bool) {
	if p.Request.ChainID == nil {
		return 0, false
	}
	return *p.Request.ChainID, true
}

// Resolve consumes the continuation. It returns ErrAlreadyResolved when the
// proposal was already decided.
func (p *Proposal) Resolve(approved bool, err error) error {
	if !p.resolved.CAS(false, true) {
		return &Error{Kind: KindAlreadyResolved, PeerID: p.Request.PeerID, Reason: "proposal " + p.ID}
	}
	if p.resolve != nil {
		p.resolve(approved, err)
	}
	return nil
}

// Outcome is the terminal result of a negotiation.
type Outcome struct {
	Proposal *Proposal
	Response CapabilityResponse
	// Session is set only when approved.
	Session *Session
	Reason  string
	Err     error
}

func (o Outcome) Approved() bool {
	return o.Response.Approved
}

// Negotiator drives the connect/approve handshake.
type Negotiator struct {
	networks        chains.NetworkSet
	defaultChainID  int64
	accounts        []string
	meta            PeerMeta
	approvalTimeout time.Duration
	newPeerID       func() string
	now             func() time.Time
}

func NewNegotiator(networks chains.NetworkSet, defaultChainID int64, accounts []common.Address, meta PeerMeta) *Negotiator {
	hexAccounts := make([]string, 0, len(accounts))
	for _, a := range accounts {
		hexAccounts = append(hexAccounts, a.Hex())
	}
	return &Negotiator{
		networks:       networks,
		defaultChainID: defaultChainID,
		accounts:       hexAccounts,
		meta:           meta,
		newPeerID:      uuid.NewString,
		now:            time.Now,
	}
}

// Propose creates a proposal in the proposed state.
func (n *Negotiator) Propose(req ProposalRequest) *Proposal {
	return &Proposal{
		ID:        uuid.NewString(),
		Request:   req,
		CreatedAt: n.now(),
	}
}

// Compatible is the chain gate: a proposal naming a chain must name an enabled one.
func (n *Negotiator) Compatible(p *Proposal) bool {
	id, ok := p.RequestedChain()
	return !ok || n.networks.Enabled(id)
}

// Negotiate runs the state machine for p. An incompatible chain or a missing
// approver declines immediately without asking anyone. Otherwise approver runs
// on its own goroutine and finish is handed to post once the decision is made,
// so finish always runs on the caller's executor and exactly once.
func (n *Negotiator) Negotiate(ctx context.Context, p *Proposal, approver Approver, post func(func()), finish func(Outcome)) {
	settle := func(approved bool, reason string, err error) {
		post(func() { finish(n.outcome(p, approved, reason, err)) })
	}
	p.resolve = func(approved bool, err error) {
		switch {
		case errors.Is(err, errApprovalTimeout):
			settle(false, DeclineTimeout, nil)
		case err != nil:
			settle(false, DeclineApproverError, err)
		case approved:
			settle(true, "", nil)
		default:
			settle(false, DeclineByApprover, nil)
		}
	}

	if !n.Compatible(p) {
		id, _ := p.RequestedChain()
		log.Infof("bridge - decline %s (%s): chain %d not enabled in %s", p.Request.PeerID, p.Request.Meta.Name, id, n.networks)
		p.resolved.Store(true)
		finish(n.outcome(p, false, DeclineUnsupportedChain, nil))
		return
	}
	if approver == nil {
		p.resolved.Store(true)
		finish(n.outcome(p, false, DeclineNoApprover, nil))
		return
	}

	p.state.Store(int32(ProposalAwaitingApproval))
	actx, cancel := context.WithCancel(ctx)
	if n.approvalTimeout > 0 {
		timer := time.AfterFunc(n.approvalTimeout, func() {
			if err := p.Resolve(false, errApprovalTimeout); err == nil {
				cancel()
			}
		})
		go func() {
			<-actx.Done()
			timer.Stop()
		}()
	}
	go func() {
		defer cancel()
		approved, err := approver.ShouldConnect(actx, p)
		// a timeout may already have consumed the continuation
		_ = p.Resolve(approved, err)
	}()
}

func (n *Negotiator) outcome(p *Proposal, approved bool, reason string, err error) Outcome {
	chainID := n.defaultChainID
	if id, ok := p.RequestedChain(); ok {
		chainID = id
	}
	resp := CapabilityResponse{
		Approved: approved,
		Accounts: append([]string(nil), n.accounts...),
		ChainID:  chainID,
		PeerMeta: n.meta,
	}
	o := Outcome{Proposal: p, Reason: reason, Err: err}
	if !approved {
		p.state.Store(int32(ProposalDeclined))
		resp.Accounts = []string{}
		o.Response = resp
		return o
	}
	p.state.Store(int32(ProposalApproved))
	resp.PeerID = n.newPeerID()
	o.Response = resp
	o.Session = &Session{
		PeerID:       p.Request.PeerID,
		Meta:         p.Request.Meta,
		ChainID:      chainID,
		RelayURL:     p.Request.URL,
		WalletPeerID: resp.PeerID,
		Accounts:     append([]string(nil), n.accounts...),
		CreatedAt:    n.now(),
	}
	return o
}
