package bridge

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/atomic"

	"moff.io/wallet-bridge/internal/chains"
	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
)

const defaultQueueSize = 1024

type config struct {
	accounts           []common.Address
	networks           chains.NetworkSet
	defaultChainID     int64
	walletMeta         PeerMeta
	approvalTimeout    time.Duration
	queueSize          int
	approver           Approver
	limiter            Limiter
	observer           Observer
	rejectWhenDetached bool
}

// Option configures a Bridge.
type Option func(*config)

// WithWallet sets the wallet accounts (the first is the active identity) and
// the client metadata sent to dApps.
func WithWallet(accounts []common.Address, meta PeerMeta) Option {
	return func(c *config) {
		c.accounts = append([]common.Address(nil), accounts...)
		c.walletMeta = meta
	}
}

// WithNetworks sets the enabled networks and the chain used when a proposal names none.
func WithNetworks(networks chains.NetworkSet, defaultChainID int64) Option {
	return func(c *config) {
		c.networks = networks
		c.defaultChainID = defaultChainID
	}
}

// WithApprover overrides the delegate as the connection approver.
func WithApprover(a Approver) Option {
	return func(c *config) { c.approver = a }
}

// WithApprovalTimeout declines proposals the approver has not answered within d.
// Zero waits indefinitely.
func WithApprovalTimeout(d time.Duration) Option {
	return func(c *config) { c.approvalTimeout = d }
}

func WithLimiter(l Limiter) Option {
	return func(c *config) { c.limiter = l }
}

func WithObserver(o Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observer = o
		}
	}
}

func WithQueueSize(n int) Option {
	return func(c *config) { c.queueSize = n }
}

// WithRejectWhenDetached rejects actions produced while no delegate is attached
// instead of dropping them.
func WithRejectWhenDetached(reject bool) Option {
	return func(c *config) { c.rejectWhenDetached = reject }
}

type delegateRef struct {
	d Delegate
}

// Bridge connects a relay Transport to the wallet. Registry mutation, negotiation
// transitions and event handling all run on one serial executor; delegate
// callbacks run, in order, on a second one.
type Bridge struct {
	cfg        config
	transport  Transport
	registry   *Registry
	negotiator *Negotiator
	router     *Router
	dispatcher *Dispatcher

	serial    *executor
	callbacks *executor
	delegate  atomic.Value

	state     atomic.Int32
	stateFeed *fanout
	started   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(t Transport, opts ...Option) *Bridge {
	cfg := config{
		queueSize: defaultQueueSize,
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	n := NewNegotiator(cfg.networks, cfg.defaultChainID, cfg.accounts, cfg.walletMeta)
	n.approvalTimeout = cfg.approvalTimeout
	b := &Bridge{
		cfg:        cfg,
		transport:  t,
		registry:   NewRegistry(),
		negotiator: n,
		router:     NewRouter(cfg.accounts),
		dispatcher: NewDispatcher(t),
		serial:     newExecutor("bridge", cfg.queueSize),
		callbacks:  newExecutor("delegate", cfg.queueSize),
		stateFeed:  newFanout("connection"),
	}
	b.delegate.Store(delegateRef{})
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b
}

// SetDelegate attaches d, or detaches the current delegate when d is nil.
// The bridge keeps a non-owning reference.
func (b *Bridge) SetDelegate(d Delegate) {
	b.delegate.Store(delegateRef{d: d})
}

func (b *Bridge) Delegate() Delegate {
	return b.delegate.Load().(delegateRef).d
}

// Start runs the bridge in the background until ctx is done.
func (b *Bridge) Start(ctx context.Context) {
	go b.Run(ctx)
}

// Run drains transport events until ctx is done or the transport closes its
// event channel. It may be called once.
func (b *Bridge) Run(ctx context.Context) {
	if !b.started.CAS(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		b.cancel()
	}()
	go b.serial.Run(ctx)
	go b.callbacks.Run(ctx)
	log.Info("bridge running...")
	defer log.Info("bridge stopped...")

	events := b.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.serial.Post(func() { b.handle(ev) })
		}
	}
}

// Sessions returns the current sessions in insertion order.
func (b *Bridge) Sessions() []Session {
	return b.registry.All()
}

func (b *Bridge) Session(peerID string) (Session, bool) {
	return b.registry.Find(peerID)
}

// SubscribeSessions delivers a snapshot after every registry mutation.
func (b *Bridge) SubscribeSessions(ch chan<- []Session) event.Subscription {
	return b.registry.Subscribe(ch)
}

func (b *Bridge) ConnectionState() ConnectionState {
	return ConnectionState(b.state.Load())
}

// SubscribeConnection delivers the connection indicator on every change.
func (b *Bridge) SubscribeConnection(ch chan<- ConnectionState) event.Subscription {
	return b.stateFeed.Subscribe(func(v interface{}, quit <-chan struct{}) bool {
		select {
		case ch <- v.(ConnectionState):
			return true
		case <-quit:
			return false
		}
	})
}

// Connect asks the relay to open a session from a pairing URI.
func (b *Bridge) Connect(ctx context.Context, uri string) error {
	if err := b.transport.Connect(ctx, uri); err != nil {
		var e *Error
		if !errors.As(err, &e) {
			e = transportError("", "connect", err)
		}
		if e.Kind == KindInvalidURL && e.URL == "" {
			e.URL = uri
		}
		b.fail(e)
		return e
	}
	return nil
}

// Disconnect ends the session with peerID. Disconnecting an unknown or already
// removed peer is a no-op.
func (b *Bridge) Disconnect(ctx context.Context, peerID string) error {
	var (
		session Session
		removed bool
	)
	if err := b.do(ctx, func() {
		session, removed = b.registry.Remove(peerID)
		if removed {
			b.syncConnection()
		}
	}); err != nil {
		return err
	}
	if !removed {
		return nil
	}
	log.Infof("bridge - disconnect %s (%s)", peerID, session.Meta.Name)
	if err := b.transport.Disconnect(ctx, session); err != nil {
		return transportError(peerID, "disconnect", err)
	}
	return nil
}

// Reconnect reopens the relay connection of a known session.
func (b *Bridge) Reconnect(ctx context.Context, peerID string) error {
	s, ok := b.registry.Find(peerID)
	if !ok {
		return connectionInvalid(peerID, "")
	}
	if err := b.transport.Reconnect(ctx, s); err != nil {
		e := transportError(peerID, "reconnect", err)
		b.fail(e)
		return e
	}
	return nil
}

// Fulfill replies to the dApp with value.
func (b *Bridge) Fulfill(ctx context.Context, a *Action, value interface{}) error {
	err := b.dispatcher.Fulfill(ctx, a, value)
	if err != nil {
		b.cfg.observer.Failed(kindOf(err))
		return err
	}
	b.cfg.observer.ResponseSent("reply")
	return nil
}

// Reject sends the standard rejection for a.
func (b *Bridge) Reject(ctx context.Context, a *Action) error {
	err := b.dispatcher.Reject(ctx, a)
	if err != nil {
		b.cfg.observer.Failed(kindOf(err))
		return err
	}
	b.cfg.observer.ResponseSent("reject")
	return nil
}

// do runs fn on the serial executor and waits for it.
func (b *Bridge) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !b.serial.Post(func() {
		defer close(done)
		fn()
	}) {
		return errors.New("bridge stopped")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) handle(ev Event) {
	log.Debugf("bridge - event %s", ev.Kind)
	switch ev.Kind {
	case EventConnectionProposed:
		if ev.Proposal != nil {
			b.propose(*ev.Proposal)
		}
	case EventConnectFailed:
		b.connectFailed(ev.URL, ev.Err)
	case EventSessionEstablished:
		if ev.Session != nil {
			b.registry.InsertOrReplace(*ev.Session)
			b.syncConnection()
		}
	case EventSessionEnded:
		if ev.Session != nil {
			if _, ok := b.registry.Remove(ev.Session.PeerID); ok {
				log.Infof("bridge - session %s ended by peer", ev.Session.PeerID)
				b.syncConnection()
			}
		}
	case EventRequestReceived:
		if ev.Call != nil {
			b.request(*ev.Call)
		}
	default:
		log.Warnf("bridge - unsupported event kind %d", ev.Kind)
	}
}

func (b *Bridge) approver() Approver {
	if b.cfg.approver != nil {
		return b.cfg.approver
	}
	if d := b.Delegate(); d != nil {
		return d
	}
	return nil
}

func (b *Bridge) propose(req ProposalRequest) {
	p := b.negotiator.Propose(req)
	log.Infof("bridge - proposal %s from %s (%s)", p.ID, req.PeerID, req.Meta.Name)
	post := func(fn func()) { b.serial.Post(fn) }
	b.negotiator.Negotiate(b.ctx, p, b.approver(), post, b.finishProposal)
}

func (b *Bridge) finishProposal(o Outcome) {
	req := o.Proposal.Request
	if o.Approved() {
		b.cfg.observer.ProposalResolved("approved")
	} else {
		b.cfg.observer.ProposalResolved(o.Reason)
	}
	if o.Err != nil {
		log.Warnf("bridge - approver failed for %s: %v", req.PeerID, o.Err)
	}
	if err := b.transport.RespondSession(b.ctx, req.Call, o.Response); err != nil {
		b.fail(transportError(req.PeerID, "respond session", err))
		return
	}
	if o.Session == nil {
		log.Infof("bridge - proposal %s declined: %s", o.Proposal.ID, o.Reason)
		return
	}
	b.registry.InsertOrReplace(*o.Session)
	b.syncConnection()
	log.Infof("bridge - session %s (%s) established on chain %d", o.Session.PeerID, o.Session.Meta.Name, o.Session.ChainID)
}

func (b *Bridge) connectFailed(url string, cause error) {
	if removed := b.registry.RemoveByRelayURL(url); len(removed) > 0 {
		b.syncConnection()
	}
	b.fail(connectFailed(url, cause))
}

func (b *Bridge) request(call Call) {
	b.cfg.observer.RequestReceived(call.Method)
	session, ok := b.registry.Find(call.PeerID)
	if !ok {
		b.fail(connectionInvalid(call.PeerID, call.Method))
		return
	}
	if b.cfg.limiter != nil {
		allowed, err := b.cfg.limiter.Allow(b.ctx, call.PeerID)
		if err != nil {
			log.Error(errors.WrapAndReport(err, "rate limit request"))
		} else if !allowed {
			if err := b.dispatcher.RejectCall(b.ctx, call); err != nil {
				log.Error(err)
			} else {
				b.cfg.observer.ResponseSent("reject")
			}
			b.fail(&Error{Kind: KindRateLimited, PeerID: call.PeerID, Method: call.Method})
			return
		}
	}
	req, err := Decode(call)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.PeerID, e.Method = call.PeerID, call.Method
		}
		b.fail(err)
		return
	}
	action, err := b.router.Route(&session, call, req)
	if err != nil {
		b.fail(err)
		return
	}
	b.callbacks.Post(func() { b.deliver(action) })
}

// deliver runs on the callbacks executor.
func (b *Bridge) deliver(a *Action) {
	d := b.Delegate()
	if d != nil {
		d.ActionProduced(a)
		return
	}
	if !b.cfg.rejectWhenDetached {
		log.Warnf("bridge - no delegate attached, dropping %s %s", a.Call.Method, a.ID)
		return
	}
	if err := b.Reject(b.ctx, a); err != nil {
		log.Error(err)
	}
}

func (b *Bridge) fail(err error) {
	b.cfg.observer.Failed(kindOf(err))
	log.Warnf("bridge - %v", err)
	b.callbacks.Post(func() {
		if d := b.Delegate(); d != nil {
			d.BridgeFailed(err)
		}
	})
}

// syncConnection flips the indicator when the registry crosses empty/non-empty.
func (b *Bridge) syncConnection() {
	n := b.registry.Len()
	b.cfg.observer.SessionsChanged(n)
	next := Disconnected
	if n > 0 {
		next = Connected
	}
	if prev := ConnectionState(b.state.Swap(int32(next))); prev != next {
		b.stateFeed.Send(next)
	}
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}
