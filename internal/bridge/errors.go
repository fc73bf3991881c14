package bridge

import (
	"fmt"
	"strings"
)

// Kind classifies bridge failures reported through Delegate.BridgeFailed.
type Kind string

const (
	KindConnectionInvalid Kind = "connection-invalid"
	KindInvalidURL        Kind = "invalid-url"
	KindConnectFailed     Kind = "connect-failed"
	KindDecode            Kind = "decode-error"
	KindReplyConstruction Kind = "reply-construction-error"
	KindAlreadyResolved   Kind = "already-resolved"
	KindRateLimited       Kind = "rate-limited"
	KindTransport         Kind = "transport"
)

// Error is the single error type the bridge surfaces. Match with errors.Is
// against the Err* sentinels, which compare by Kind only.
type Error struct {
	Kind   Kind
	URL    string
	PeerID string
	Method string
	Reason string
	Err    error
}

var (
	ErrConnectionInvalid = &Error{Kind: KindConnectionInvalid}
	ErrInvalidURL        = &Error{Kind: KindInvalidURL}
	ErrConnectFailed     = &Error{Kind: KindConnectFailed}
	ErrDecode            = &Error{Kind: KindDecode}
	ErrReplyConstruction = &Error{Kind: KindReplyConstruction}
	ErrAlreadyResolved   = &Error{Kind: KindAlreadyResolved}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrTransport         = &Error{Kind: KindTransport}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.URL != "" {
		fmt.Fprintf(&b, "(%s)", e.URL)
	}
	if e.PeerID != "" {
		fmt.Fprintf(&b, " peer=%s", e.PeerID)
	}
	if e.Method != "" {
		fmt.Fprintf(&b, " method=%s", e.Method)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func decodeError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindDecode, Reason: fmt.Sprintf(format, args...)}
}

func connectionInvalid(peerID, method string) *Error {
	return &Error{Kind: KindConnectionInvalid, PeerID: peerID, Method: method, Reason: "no established session"}
}

func connectFailed(url string, err error) *Error {
	return &Error{Kind: KindConnectFailed, URL: url, Err: err}
}

func transportError(peerID, reason string, err error) *Error {
	return &Error{Kind: KindTransport, PeerID: peerID, Reason: reason, Err: err}
}
