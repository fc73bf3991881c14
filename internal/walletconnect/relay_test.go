package walletconnect

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"moff.io/wallet-bridge/pkg/wccrypto"
)

// testRelay is a minimal in-memory WalletConnect v1 bridge server. pub messages
// for topics nobody subscribed to yet are held until the first sub.
type testRelay struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	subs    map[string][]*relayPeer
	pending map[string][][]byte
}

type relayPeer struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (p *relayPeer) send(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ws.WriteMessage(websocket.TextMessage, data)
}

func newTestRelay(t *testing.T) *testRelay {
	r := &testRelay{subs: map[string][]*relayPeer{}, pending: map[string][][]byte{}}
	r.srv = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *testRelay) serve(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	peer := &relayPeer{ws: ws}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case typeSub:
			r.mu.Lock()
			r.subs[msg.Topic] = append(r.subs[msg.Topic], peer)
			queued := r.pending[msg.Topic]
			delete(r.pending, msg.Topic)
			r.mu.Unlock()
			for _, q := range queued {
				peer.send(q)
			}
		case typePub:
			r.mu.Lock()
			subs := append([]*relayPeer(nil), r.subs[msg.Topic]...)
			if len(subs) == 0 {
				r.pending[msg.Topic] = append(r.pending[msg.Topic], data)
			}
			r.mu.Unlock()
			for _, s := range subs {
				s.send(data)
			}
		}
	}
}

func (r *testRelay) wsURL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

// testDApp plays the dApp end of a pairing.
type testDApp struct {
	t   *testing.T
	ws  *websocket.Conn
	key []byte
}

func (r *testRelay) dapp(t *testing.T, key []byte) *testDApp {
	ws, _, err := websocket.DefaultDialer.Dial(r.wsURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &testDApp{t: t, ws: ws, key: key}
}

func (d *testDApp) subscribe(topic string) {
	msg := message{Topic: topic, Type: typeSub, Silent: true}
	require.NoError(d.t, d.ws.WriteMessage(websocket.TextMessage, msg.Marshal()))
}

func (d *testDApp) publish(topic string, rpc string) {
	payload, err := wccrypto.Seal([]byte(rpc), d.key)
	require.NoError(d.t, err)
	d.publishPayload(topic, payload)
}

func (d *testDApp) publishPayload(topic string, payload *wccrypto.Payload) {
	b, err := json.Marshal(payload)
	require.NoError(d.t, err)
	msg := message{Topic: topic, Type: typePub, Payload: string(b), Silent: true}
	require.NoError(d.t, d.ws.WriteMessage(websocket.TextMessage, msg.Marshal()))
}

// next returns the decrypted JSON-RPC body of the next pub delivered to the dApp.
func (d *testDApp) next() gjson.Result {
	require.NoError(d.t, d.ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := d.ws.ReadMessage()
	require.NoError(d.t, err)
	var msg message
	require.NoError(d.t, json.Unmarshal(data, &msg))
	var p wccrypto.Payload
	require.NoError(d.t, json.Unmarshal([]byte(msg.Payload), &p))
	plaintext, err := wccrypto.Open(&p, d.key)
	require.NoError(d.t, err)
	return gjson.ParseBytes(plaintext)
}
