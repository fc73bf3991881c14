// Package walletconnect is the wallet side of the WalletConnect v1 relay protocol.
// 交互流程见文档：https://docs.walletconnect.com/tech-spec#establishing-connection
package walletconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"moff.io/wallet-bridge/internal/bridge"
	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
)

var (
	errSessionClosed = errors.New("session closed")
	errUnknownPeer   = errors.New("no relay connection for peer")
)

// Deduplicator remembers relay messages already delivered.
type Deduplicator interface {
	// Seen marks key and reports whether it was marked before.
	Seen(ctx context.Context, key string) (bool, error)
}

type Option func(*Transport)

func WithReadTimeout(d time.Duration) Option {
	return func(t *Transport) { t.readTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(t *Transport) { t.writeTimeout = d }
}

func WithDialTimeout(d time.Duration) Option {
	return func(t *Transport) { t.dialer.HandshakeTimeout = d }
}

func WithDeduplicator(d Deduplicator) Option {
	return func(t *Transport) { t.dedup = d }
}

func WithEventBuffer(n int) Option {
	return func(t *Transport) { t.events = make(chan bridge.Event, n) }
}

// Transport implements bridge.Transport over one websocket per pairing.
type Transport struct {
	ctx    context.Context
	cancel context.CancelFunc

	dialer       *websocket.Dialer
	readTimeout  time.Duration
	writeTimeout time.Duration
	dedup        Deduplicator
	events       chan bridge.Event

	mu    sync.RWMutex
	conns map[string]*peerConn // by handshake topic
	peers map[string]*peerConn // by dApp peer id
}

var _ bridge.Transport = (*Transport)(nil)

func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		dialer:       &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		readTimeout:  time.Minute * 5,
		writeTimeout: 10 * time.Second,
		events:       make(chan bridge.Event, 256),
		conns:        map[string]*peerConn{},
		peers:        map[string]*peerConn{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t
}

func (t *Transport) Events() <-chan bridge.Event {
	return t.events
}

// Close drops every relay connection. Events are no longer delivered.
func (t *Transport) Close() {
	t.cancel()
	t.mu.Lock()
	conns := make([]*peerConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = map[string]*peerConn{}
	t.peers = map[string]*peerConn{}
	t.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

// Connect validates uri and then pairs in the background. Relay failures are
// reported as a connect-failed event carrying uri.
func (t *Transport) Connect(ctx context.Context, uri string) error {
	parsed, err := ParseURI(uri)
	if err != nil {
		return err
	}
	go func() {
		c, err := dial(t.ctx, t.dialer, parsed, uri, t.writeTimeout)
		if err == nil {
			err = c.subscribe(parsed.Topic)
			if err != nil {
				c.close()
			}
		}
		if err != nil {
			log.Warnf("wallet connect - connect %s: %v", parsed.Bridge, err)
			t.emit(bridge.Event{Kind: bridge.EventConnectFailed, URL: uri, Err: err})
			return
		}
		if prev := t.track(c); prev != nil {
			// pairing the same uri again replaces the previous socket
			t.forget(prev)
			prev.close()
		}
		t.readLoop(c)
	}()
	return nil
}

// Reconnect redials the relay of an established session and resubscribes to
// the wallet peer topic.
func (t *Transport) Reconnect(ctx context.Context, s bridge.Session) error {
	parsed, err := ParseURI(s.RelayURL)
	if err != nil {
		return err
	}
	if s.WalletPeerID == "" {
		return errors.Errorf("session %s has no wallet peer id", s.PeerID)
	}
	c, err := dial(ctx, t.dialer, parsed, s.RelayURL, t.writeTimeout)
	if err != nil {
		return err
	}
	if err := c.subscribe(s.WalletPeerID); err != nil {
		c.close()
		return err
	}
	c.peerID.Store(s.PeerID)
	c.walletPeerID.Store(s.WalletPeerID)
	c.established.Store(true)
	if prev := t.track(c); prev != nil {
		prev.close()
	}
	go t.readLoop(c)
	session := s
	t.emit(bridge.Event{Kind: bridge.EventSessionEstablished, Session: &session})
	return nil
}

// Disconnect tells the dApp the session is over and closes the socket.
func (t *Transport) Disconnect(ctx context.Context, s bridge.Session) error {
	c := t.remove(s.PeerID)
	if c == nil {
		return nil
	}
	defer c.close()
	update := newJSONRpcRequest(methodSessionUpdate, sessionUpdate{Approved: false})
	return c.publish(s.PeerID, update)
}

func (t *Transport) RespondSession(ctx context.Context, call bridge.Call, resp bridge.CapabilityResponse) error {
	c, err := t.peer(call.PeerID)
	if err != nil {
		return err
	}
	result, err := json.Marshal(newSessionParams(resp))
	if err != nil {
		return errors.Wrap(err, "marshal session params")
	}
	// 先订阅钱包topic，订阅失败时dApp不会收到approved
	if resp.Approved {
		if err := c.subscribe(resp.PeerID); err != nil {
			return err
		}
	}
	if err := c.publish(call.PeerID, &jsonRpcResponse{Id: call.ID, JSONRpc: "2.0", Result: result}); err != nil {
		return err
	}
	if !resp.Approved {
		t.remove(call.PeerID)
		c.close()
		return nil
	}
	c.walletPeerID.Store(resp.PeerID)
	c.established.Store(true)
	return nil
}

func (t *Transport) SendReply(ctx context.Context, call bridge.Call, result json.RawMessage) error {
	c, err := t.peer(call.PeerID)
	if err != nil {
		return err
	}
	return c.publish(call.PeerID, &jsonRpcResponse{Id: call.ID, JSONRpc: "2.0", Result: result})
}

func (t *Transport) SendReject(ctx context.Context, call bridge.Call) error {
	c, err := t.peer(call.PeerID)
	if err != nil {
		return err
	}
	return c.publish(call.PeerID, &jsonRpcResponse{
		Id:      call.ID,
		JSONRpc: "2.0",
		Error:   &jsonRpcError{Code: rejectCode, Message: rejectMessage},
	})
}

func (t *Transport) emit(ev bridge.Event) {
	select {
	case t.events <- ev:
	case <-t.ctx.Done():
	}
}

// track registers c, returning the connection it replaces.
func (t *Transport) track(c *peerConn) *peerConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.conns[c.uri.Topic]
	t.conns[c.uri.Topic] = c
	if peerID := c.peerID.Load(); peerID != "" {
		if p, ok := t.peers[peerID]; ok && p != prev && p != c {
			defer p.close()
		}
		t.peers[peerID] = c
	}
	if prev == c {
		return nil
	}
	return prev
}

func (t *Transport) bindPeer(c *peerConn, peerID string) {
	c.peerID.Store(peerID)
	t.mu.Lock()
	t.peers[peerID] = c
	t.mu.Unlock()
}

func (t *Transport) peer(peerID string) (*peerConn, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.peers[peerID]
	if !ok {
		return nil, errors.Wrap(errUnknownPeer, peerID)
	}
	return c, nil
}

func (t *Transport) remove(peerID string) *peerConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.peers[peerID]
	if !ok {
		return nil
	}
	delete(t.peers, peerID)
	if t.conns[c.uri.Topic] == c {
		delete(t.conns, c.uri.Topic)
	}
	return c
}

// forget drops c if it is still the registered connection for its topic.
func (t *Transport) forget(c *peerConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[c.uri.Topic] == c {
		delete(t.conns, c.uri.Topic)
	}
	if peerID := c.peerID.Load(); peerID != "" && t.peers[peerID] == c {
		delete(t.peers, peerID)
	}
}

func (t *Transport) readLoop(c *peerConn) {
	defer c.close()
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(t.readTimeout))
	})
	stopPing := t.keepalive(c)
	defer stopPing()
	for {
		data, err := t.read(c)
		if err != nil {
			t.dropped(c, err)
			return
		}
		if data == nil {
			continue
		}
		if err := t.handle(c, data); err != nil {
			if errors.Is(err, errSessionClosed) {
				return
			}
			log.Warnf("wallet connect - handle message: %v", err)
		}
	}
}

// keepalive pings the relay so idle sessions outlive the read deadline.
func (t *Transport) keepalive(c *peerConn) func() {
	if t.readTimeout <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(t.readTimeout / 2)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.ctx.Done():
				return
			case <-ticker.C:
				if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout)); err != nil {
					log.Debugf("wallet connect - ping: %v", err)
				}
			}
		}
	}()
	return func() { close(done) }
}

// read returns the next text frame, or nil for frames to skip.
func (t *Transport) read(c *peerConn) ([]byte, error) {
	if t.readTimeout > 0 {
		if err := c.ws.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
			return nil, errors.Wrap(err, "set websocket read timeout")
		}
	}
	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType != websocket.TextMessage {
		return nil, nil
	}
	return data, nil
}

func (t *Transport) dropped(c *peerConn, err error) {
	if c.closed.Load() || t.ctx.Err() != nil {
		return
	}
	t.forget(c)
	if c.established.Load() {
		// the session survives; the wallet may Reconnect
		log.Warnf("wallet connect - relay connection of %s lost: %v", c.peerID.Load(), err)
		return
	}
	log.Warnf("wallet connect - relay connection lost before session: %v", err)
	t.emit(bridge.Event{Kind: bridge.EventConnectFailed, URL: c.raw, Err: errors.Wrap(err, "read relay message")})
}

// handle processes one relay frame. A frame that panics is reported and dropped,
// the connection keeps reading.
func (t *Transport) handle(c *peerConn, data []byte) (err error) {
	defer func() {
		if i := recover(); i != nil {
			err = errors.ErrorfAndReport("recovered from relay message on %s: %v", c.uri.Topic, i)
		}
	}()
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return errors.Wrap(err, "unmarshal wallet connect message")
	}
	if msg.Type != typePub {
		return nil
	}
	log.Debugf("wallet connect - receive %s on %s", msg.Type, msg.Topic)
	if err := c.ack(msg.Topic); err != nil {
		return err
	}
	plaintext, err := c.open(&msg)
	if err != nil {
		return err
	}
	rpc := gjson.ParseBytes(plaintext)
	method := rpc.Get("method")
	if !method.Exists() {
		log.Debugf("wallet connect - ignore json rpc response %d", rpc.Get("id").Int())
		return nil
	}
	id := rpc.Get("id").Int()
	if t.dedup != nil {
		seen, err := t.dedup.Seen(t.ctx, fmt.Sprintf("%s:%d", msg.Topic, id))
		if err != nil {
			log.Error(errors.WrapAndReport(err, "dedup relay message"))
		} else if seen {
			log.Debugf("wallet connect - duplicate %s %d", method.String(), id)
			return nil
		}
	}
	params := json.RawMessage(rpc.Get("params").Raw)
	if len(params) == 0 {
		params = json.RawMessage("[]")
	}

	switch method.String() {
	case methodSessionRequest:
		return t.sessionRequest(c, id, params)
	case methodSessionUpdate:
		return t.sessionUpdate(c, params)
	default:
		peerID := c.peerID.Load()
		if peerID == "" {
			return errors.Errorf("request %s before session request", method.String())
		}
		t.emit(bridge.Event{Kind: bridge.EventRequestReceived, Call: &bridge.Call{
			ID:     id,
			PeerID: peerID,
			Method: method.String(),
			Params: params,
		}})
		return nil
	}
}

func (t *Transport) sessionRequest(c *peerConn, id int64, params json.RawMessage) error {
	p := gjson.GetBytes(params, "0")
	peerID := p.Get("peerId").String()
	if peerID == "" {
		return errors.New("session request without peer id")
	}
	var meta bridge.PeerMeta
	if m := p.Get("peerMeta"); m.IsObject() {
		if err := json.Unmarshal([]byte(m.Raw), &meta); err != nil {
			return errors.Wrap(err, "unmarshal peer meta")
		}
	}
	req := bridge.ProposalRequest{
		Call:   bridge.Call{ID: id, PeerID: peerID, Method: methodSessionRequest, Params: params},
		PeerID: peerID,
		Meta:   meta,
		URL:    c.raw,
	}
	if chain := p.Get("chainId"); chain.Type == gjson.Number {
		v := chain.Int()
		req.ChainID = &v
	}
	t.bindPeer(c, peerID)
	t.emit(bridge.Event{Kind: bridge.EventConnectionProposed, Proposal: &req})
	return nil
}

func (t *Transport) sessionUpdate(c *peerConn, params json.RawMessage) error {
	approved := gjson.GetBytes(params, "0.approved")
	if !approved.Exists() || approved.Bool() {
		return nil
	}
	peerID := c.peerID.Load()
	log.Warnf("wallet connect - session %s closed by peer", peerID)
	if peerID != "" {
		t.remove(peerID)
		t.emit(bridge.Event{Kind: bridge.EventSessionEnded, Session: &bridge.Session{
			PeerID:       peerID,
			RelayURL:     c.raw,
			WalletPeerID: c.walletPeerID.Load(),
		}})
	} else {
		t.forget(c)
	}
	return errSessionClosed
}
