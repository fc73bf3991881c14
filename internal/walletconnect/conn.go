package walletconnect

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
	"moff.io/wallet-bridge/pkg/wccrypto"
)

// peerConn is the relay socket of one pairing. gorilla connections allow one
// concurrent writer, so writes are serialized by writeMu.
type peerConn struct {
	uri          URI
	raw          string
	ws           *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration

	peerID       atomic.String
	walletPeerID atomic.String
	established  atomic.Bool
	closed       atomic.Bool
}

func dial(ctx context.Context, dialer *websocket.Dialer, uri URI, raw string, writeTimeout time.Duration) (*peerConn, error) {
	wsURL, err := uri.websocketURL()
	if err != nil {
		return nil, err
	}
	ws, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial to wallet connect bridge url")
	}
	return &peerConn{uri: uri, raw: raw, ws: ws, writeTimeout: writeTimeout}, nil
}

func (c *peerConn) write(msg *message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return errors.Wrap(err, "set websocket write timeout")
		}
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, msg.Marshal()); err != nil {
		return errors.Wrap(err, "write wallet connect message to server")
	}
	return nil
}

func (c *peerConn) subscribe(topic string) error {
	log.Debugf("wallet connect - subscribe %s", topic)
	return c.write(&message{Topic: topic, Type: typeSub, Silent: true})
}

func (c *peerConn) ack(topic string) error {
	return c.write(&message{Topic: topic, Type: typeAck, Silent: true})
}

// publish encrypts v and sends it to topic.
func (c *peerConn) publish(topic string, v interface{}) error {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal json rpc")
	}
	payload, err := wccrypto.Seal(plaintext, c.uri.Key)
	if err != nil {
		return err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}
	log.Debugf("wallet connect - publish to %s", topic)
	return c.write(&message{Topic: topic, Type: typePub, Payload: string(b), Silent: true})
}

// open decrypts an envelope payload into its JSON-RPC plaintext.
func (c *peerConn) open(msg *message) ([]byte, error) {
	var p wccrypto.Payload
	if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
		return nil, errors.Wrap(err, "unmarshal wallet connect message payload")
	}
	return wccrypto.Open(&p, c.uri.Key)
}

func (c *peerConn) close() {
	if !c.closed.CAS(false, true) {
		return
	}
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.ws.Close()
}
