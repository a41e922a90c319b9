package wrapper

import (
	"context"
	"errors"
	"fmt"

	"github.com/quic-go/quic-go"

	"github.com/Liangxia6/quicboot/trust"
)

// ErrEndpointClosed is returned by Accept and Connect once the endpoint is
// closed, including calls that were suspended when Close ran.
var ErrEndpointClosed = errors.New("endpoint closed")

// ErrNoClientConfig is returned by Connect on an endpoint with no client
// configuration.
var ErrNoClientConfig = errors.New("no client config")

// BindError reports that the UDP socket could not be resolved or bound.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// HandshakeReason says why an outbound handshake did not complete.
type HandshakeReason int

const (
	// PeerAborted covers any close from the peer or network error that is
	// not one of the more specific reasons.
	PeerAborted HandshakeReason = iota
	TrustRejected
	Timeout
	TransportMismatch
)

func (r HandshakeReason) String() string {
	switch r {
	case TrustRejected:
		return "trust_rejected"
	case Timeout:
		return "timeout"
	case TransportMismatch:
		return "transport_mismatch"
	case PeerAborted:
		return "peer_aborted"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// HandshakeError is returned by Connect. Err is the underlying quic-go or
// trust error.
type HandshakeError struct {
	Reason HandshakeReason
	Detail string
	Addr   string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("handshake with %s: %s", e.Addr, e.Reason)
	}
	return fmt.Sprintf("handshake with %s: %s: %s", e.Addr, e.Reason, e.Detail)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// TLS alert codes as carried in a QUIC crypto error.
const (
	alertHandshakeFailure      = 40
	alertProtocolVersion       = 70
	alertNoApplicationProtocol = 120
)

// classify maps a failed dial to a HandshakeError. rejected is the trust
// decision captured during the attempt, if the policy refused the chain.
func classify(addr string, err error, rejected *trust.Decision) *HandshakeError {
	he := &HandshakeError{Addr: addr, Err: err}
	if rejected != nil && !rejected.Accepted {
		he.Reason = TrustRejected
		he.Detail = rejected.Reason
		he.Err = errors.Join(rejected.Err(), err)
		return he
	}

	var (
		hsTimeout   *quic.HandshakeTimeoutError
		idleTimeout *quic.IdleTimeoutError
		versionErr  *quic.VersionNegotiationError
		transport   *quic.TransportError
		appErr      *quic.ApplicationError
	)
	switch {
	case errors.As(err, &hsTimeout), errors.As(err, &idleTimeout),
		errors.Is(err, context.DeadlineExceeded):
		he.Reason = Timeout
	case errors.As(err, &versionErr):
		he.Reason = TransportMismatch
		he.Detail = "no common QUIC version"
	case errors.As(err, &transport) && transport.ErrorCode.IsCryptoError():
		switch alert := uint64(transport.ErrorCode) - 0x100; alert {
		case alertNoApplicationProtocol:
			he.Reason = TransportMismatch
			he.Detail = "no common application protocol"
		case alertProtocolVersion, alertHandshakeFailure:
			he.Reason = TransportMismatch
			he.Detail = transport.ErrorMessage
		default:
			he.Reason = PeerAborted
			he.Detail = fmt.Sprintf("tls alert %d", alert)
		}
	case errors.As(err, &transport):
		he.Reason = PeerAborted
		he.Detail = transport.ErrorMessage
	case errors.As(err, &appErr):
		he.Reason = PeerAborted
		he.Detail = appErr.ErrorMessage
	default:
		he.Reason = PeerAborted
		he.Detail = err.Error()
	}
	return he
}
