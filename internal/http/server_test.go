package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"moff.io/wallet-bridge/internal/bridge"
	"moff.io/wallet-bridge/internal/inbox"
	"moff.io/wallet-bridge/pkg/errors"
)

type fakeBridge struct {
	sessions     []bridge.Session
	connected    []string
	disconnected []string
	connectErr   error
}

func (b *fakeBridge) Sessions() []bridge.Session { return b.sessions }

func (b *fakeBridge) ConnectionState() bridge.ConnectionState {
	if len(b.sessions) > 0 {
		return bridge.Connected
	}
	return bridge.Disconnected
}

func (b *fakeBridge) Connect(_ context.Context, uri string) error {
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connected = append(b.connected, uri)
	return nil
}

func (b *fakeBridge) Disconnect(_ context.Context, peerID string) error {
	b.disconnected = append(b.disconnected, peerID)
	return nil
}

func (b *fakeBridge) Reconnect(_ context.Context, peerID string) error {
	return &bridge.Error{Kind: bridge.KindConnectionInvalid, PeerID: peerID}
}

type fakeInbox struct {
	decided   map[string]bool
	fulfilled map[string]interface{}
}

func (in *fakeInbox) Proposals() []inbox.Proposal {
	return []inbox.Proposal{{ID: "p1", PeerID: "dapp"}}
}

func (in *fakeInbox) Decide(id string, approve bool) error {
	if id != "p1" {
		return errors.Wrap(inbox.ErrNotFound, id)
	}
	in.decided[id] = approve
	return nil
}

func (in *fakeInbox) Actions() []*bridge.Action {
	return []*bridge.Action{{ID: "dapp:1", Type: bridge.ActionSignMessage}}
}

func (in *fakeInbox) Fulfill(_ context.Context, id string, value interface{}) error {
	in.fulfilled[id] = value
	return nil
}

func (in *fakeInbox) Reject(_ context.Context, id string) error {
	return &bridge.Error{Kind: bridge.KindAlreadyResolved}
}

func (in *fakeInbox) Failures() []inbox.Failure {
	return []inbox.Failure{{At: time.Unix(0, 0), Kind: bridge.KindDecode, Message: "bad"}}
}

func newTestServer() (*Server, *fakeBridge, *fakeInbox) {
	gin.SetMode(gin.TestMode)
	b := &fakeBridge{sessions: []bridge.Session{{PeerID: "dapp", ChainID: 1}}}
	in := &fakeInbox{decided: map[string]bool{}, fulfilled: map[string]interface{}{}}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallet_bridge_test_total",
		Help: "Registered so /metrics has a body",
	}))
	return NewServer(":0", time.Second, b, in, reg), b, in
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestSessionRoutes(t *testing.T) {
	s, b, _ := newTestServer()

	w := do(s, http.MethodGet, "/connection", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "connected", gjson.Get(w.Body.String(), "data.state").String())

	w = do(s, http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dapp", gjson.Get(w.Body.String(), "data.0.peerId").String())

	w = do(s, http.MethodPost, "/sessions", `{"uri":"wc:abc@1?bridge=x&key=y"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"wc:abc@1?bridge=x&key=y"}, b.connected)

	w = do(s, http.MethodPost, "/sessions", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	b.connectErr = &bridge.Error{Kind: bridge.KindInvalidURL, URL: "nope"}
	w = do(s, http.MethodPost, "/sessions", `{"uri":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodDelete, "/sessions/dapp", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"dapp"}, b.disconnected)

	w = do(s, http.MethodPost, "/sessions/ghost/reconnect", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInboxRoutes(t *testing.T) {
	s, _, in := newTestServer()

	w := do(s, http.MethodGet, "/proposals", "")
	assert.Equal(t, "p1", gjson.Get(w.Body.String(), "data.0.id").String())

	w = do(s, http.MethodPost, "/proposals/p1/approve", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, in.decided["p1"])

	w = do(s, http.MethodPost, "/proposals/p2/decline", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodGet, "/actions", "")
	assert.Equal(t, "signMessage", gjson.Get(w.Body.String(), "data.0.type").String())

	w = do(s, http.MethodPost, "/actions/dapp:1/fulfill", `{"result":"0xsig"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	raw, _ := json.Marshal(in.fulfilled["dapp:1"])
	assert.JSONEq(t, `"0xsig"`, string(raw))

	w = do(s, http.MethodPost, "/actions/dapp:1/reject", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(s, http.MethodGet, "/failures", "")
	assert.Equal(t, "decode-error", gjson.Get(w.Body.String(), "data.0.kind").String())
}

func TestMetricsRoute(t *testing.T) {
	s, _, _ := newTestServer()
	w := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wallet_bridge_test_total 0")
}

func TestMetricsRouteEmptyGatherer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(":0", time.Second, &fakeBridge{}, &fakeInbox{}, prometheus.NewRegistry())
	w := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
