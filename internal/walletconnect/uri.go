package walletconnect

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"moff.io/wallet-bridge/internal/bridge"
	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/wccrypto"
)

const (
	uriScheme       = "wc:"
	protocolVersion = "1"
)

var ErrInvalidURI = errors.New("invalid wallet connect uri")

// URI is a parsed pairing link: wc:{topic}@1?bridge={url}&key={hex}.
type URI struct {
	Topic   string
	Version string
	Bridge  string
	Key     []byte
}

// ParseURI validates a pairing link. Errors match bridge.ErrInvalidURL.
func ParseURI(raw string) (URI, error) {
	invalid := func(reason string) (URI, error) {
		return URI{}, &bridge.Error{
			Kind:   bridge.KindInvalidURL,
			URL:    raw,
			Reason: reason,
			Err:    ErrInvalidURI,
		}
	}
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, uriScheme) {
		return invalid("missing wc: scheme")
	}
	s = strings.TrimPrefix(s, uriScheme)
	at := strings.Index(s, "@")
	if at <= 0 {
		return invalid("missing topic")
	}
	topic, rest := s[:at], s[at+1:]
	version, rawQuery := rest, ""
	if q := strings.Index(rest, "?"); q >= 0 {
		version, rawQuery = rest[:q], rest[q+1:]
	}
	if version != protocolVersion {
		return invalid(fmt.Sprintf("unsupported version %q", version))
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return invalid("malformed query")
	}
	bridgeURL := query.Get("bridge")
	if bridgeURL == "" {
		return invalid("missing bridge")
	}
	if _, err := wccrypto.WebSocketURL(bridgeURL, "wc", version); err != nil {
		return invalid(err.Error())
	}
	key, err := hex.DecodeString(query.Get("key"))
	if err != nil || len(key) != wccrypto.KeySize {
		return invalid("key must be 32 hex encoded bytes")
	}
	return URI{Topic: topic, Version: version, Bridge: bridgeURL, Key: key}, nil
}

func (u URI) String() string {
	return fmt.Sprintf("wc:%s@%s?bridge=%s&key=%s",
		u.Topic, u.Version, url.QueryEscape(u.Bridge), hex.EncodeToString(u.Key))
}

func (u URI) websocketURL() (string, error) {
	return wccrypto.WebSocketURL(u.Bridge, "wc", u.Version)
}
