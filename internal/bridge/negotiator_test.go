package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moff.io/wallet-bridge/internal/chains"
	"moff.io/wallet-bridge/pkg/errors"
)

func newTestNegotiator() *Negotiator {
	n := NewNegotiator(chains.NewNetworkSet(1, 56), 1, []common.Address{walletAccount}, PeerMeta{Name: "wallet"})
	n.newPeerID = func() string { return "wallet-peer" }
	return n
}

func inline(fn func()) { fn() }

func awaitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("negotiation never finished")
		return Outcome{}
	}
}

func TestNegotiateUnsupportedChain(t *testing.T) {
	n := newTestNegotiator()
	p := n.Propose(ProposalRequest{PeerID: "dapp", ChainID: chainID(137)})

	asked := false
	approver := ApproverFunc(func(context.Context, *Proposal) (bool, error) {
		asked = true
		return true, nil
	})
	var got *Outcome
	n.Negotiate(context.Background(), p, approver, inline, func(o Outcome) { got = &o })

	require.NotNil(t, got, "declined synchronously")
	assert.False(t, asked)
	assert.False(t, got.Approved())
	assert.Equal(t, DeclineUnsupportedChain, got.Reason)
	assert.Empty(t, got.Response.PeerID)
	assert.Empty(t, got.Response.Accounts)
	assert.EqualValues(t, 137, got.Response.ChainID)
	assert.Nil(t, got.Session)
	assert.Equal(t, ProposalDeclined, p.State())
	assert.True(t, errors.Is(p.Resolve(true, nil), ErrAlreadyResolved))
}

func TestNegotiateApproved(t *testing.T) {
	n := newTestNegotiator()
	p := n.Propose(ProposalRequest{
		Call:    Call{ID: 9, PeerID: "dapp"},
		PeerID:  "dapp",
		Meta:    PeerMeta{Name: "Uniswap"},
		ChainID: chainID(56),
		URL:     "wc:topic@1",
	})
	release := make(chan struct{})
	approver := ApproverFunc(func(context.Context, *Proposal) (bool, error) {
		<-release
		return true, nil
	})
	done := make(chan Outcome, 1)
	n.Negotiate(context.Background(), p, approver, inline, func(o Outcome) { done <- o })
	assert.Equal(t, ProposalAwaitingApproval, p.State())
	close(release)

	o := awaitOutcome(t, done)
	assert.True(t, o.Approved())
	assert.Equal(t, "wallet-peer", o.Response.PeerID)
	assert.Equal(t, []string{walletAccount.Hex()}, o.Response.Accounts)
	assert.EqualValues(t, 56, o.Response.ChainID)
	require.NotNil(t, o.Session)
	assert.Equal(t, "dapp", o.Session.PeerID)
	assert.Equal(t, "wallet-peer", o.Session.WalletPeerID)
	assert.Equal(t, "wc:topic@1", o.Session.RelayURL)
	assert.Equal(t, ProposalApproved, p.State())

	assert.True(t, errors.Is(p.Resolve(false, nil), ErrAlreadyResolved))
	assert.Empty(t, done)
}

func TestNegotiateDefaultsChain(t *testing.T) {
	n := newTestNegotiator()
	p := n.Propose(ProposalRequest{PeerID: "dapp"})
	done := make(chan Outcome, 1)
	n.Negotiate(context.Background(), p, ApproverFunc(func(context.Context, *Proposal) (bool, error) {
		return true, nil
	}), inline, func(o Outcome) { done <- o })
	o := awaitOutcome(t, done)
	assert.EqualValues(t, 1, o.Response.ChainID)
	assert.EqualValues(t, 1, o.Session.ChainID)
}

func TestNegotiateDeclines(t *testing.T) {
	cases := map[string]struct {
		approver Approver
		reason   string
	}{
		"declined": {ApproverFunc(func(context.Context, *Proposal) (bool, error) { return false, nil }), DeclineByApprover},
		"error":    {ApproverFunc(func(context.Context, *Proposal) (bool, error) { return true, errors.New("ui gone") }), DeclineApproverError},
		"none":     {nil, DeclineNoApprover},
	}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			n := newTestNegotiator()
			p := n.Propose(ProposalRequest{PeerID: "dapp", ChainID: chainID(1)})
			done := make(chan Outcome, 1)
			n.Negotiate(context.Background(), p, c.approver, inline, func(o Outcome) { done <- o })
			o := awaitOutcome(t, done)
			assert.False(t, o.Approved())
			assert.Equal(t, c.reason, o.Reason)
			assert.Empty(t, o.Response.PeerID)
			assert.Empty(t, o.Response.Accounts)
			assert.Nil(t, o.Session)
		})
	}
}

func TestNegotiateTimeout(t *testing.T) {
	n := newTestNegotiator()
	n.approvalTimeout = 20 * time.Millisecond
	p := n.Propose(ProposalRequest{PeerID: "dapp"})

	cancelled := make(chan struct{})
	approver := ApproverFunc(func(ctx context.Context, _ *Proposal) (bool, error) {
		<-ctx.Done()
		close(cancelled)
		return true, nil
	})
	done := make(chan Outcome, 2)
	n.Negotiate(context.Background(), p, approver, inline, func(o Outcome) { done <- o })

	o := awaitOutcome(t, done)
	assert.False(t, o.Approved())
	assert.Equal(t, DeclineTimeout, o.Reason)
	<-cancelled
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, done, "late approval is ignored")
}
