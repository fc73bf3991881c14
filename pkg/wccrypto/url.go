package wccrypto

import (
	"net/url"
	"strings"

	"moff.io/wallet-bridge/pkg/errors"
)

// WebSocketURL converts a bridge URL (http, https, ws or wss) into the websocket
// endpoint carrying the protocol query the bridge server expects.
func WebSocketURL(bridge, protocol, version string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(bridge))
	if err != nil {
		return "", errors.Wrap(err, "parse bridge url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", errors.Errorf("unsupported bridge scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("bridge url without host")
	}
	q := u.Query()
	q.Set("protocol", protocol)
	q.Set("version", version)
	q.Set("env", "wallet")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
