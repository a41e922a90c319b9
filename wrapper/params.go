package wrapper

import (
	"fmt"
	"time"

	"github.com/quic-go/quic-go"
)

// TransportParameters are the QUIC limits shared by both roles.
//
// A stream limit of 0 disables that stream type: the peer may not open any.
type TransportParameters struct {
	MaxUniStreams    int64
	MaxBidiStreams   int64
	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration
	// KeepAlivePeriod of 0 disables keep-alives.
	KeepAlivePeriod time.Duration
}

// DefaultTransportParameters disables unidirectional streams.
func DefaultTransportParameters() TransportParameters {
	return TransportParameters{
		MaxUniStreams:    0,
		MaxBidiStreams:   100,
		IdleTimeout:      30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Validate rejects negative limits and non-positive timeouts.
func (p TransportParameters) Validate() error {
	switch {
	case p.MaxUniStreams < 0:
		return fmt.Errorf("max uni streams %d < 0", p.MaxUniStreams)
	case p.MaxBidiStreams < 0:
		return fmt.Errorf("max bidi streams %d < 0", p.MaxBidiStreams)
	case p.IdleTimeout <= 0:
		return fmt.Errorf("idle timeout %s must be positive", p.IdleTimeout)
	case p.HandshakeTimeout <= 0:
		return fmt.Errorf("handshake timeout %s must be positive", p.HandshakeTimeout)
	case p.KeepAlivePeriod < 0:
		return fmt.Errorf("keep-alive period %s < 0", p.KeepAlivePeriod)
	}
	return nil
}

// quicConfig returns a fresh quic.Config each call; quic-go keeps a
// reference and callers must not share one between endpoints.
func (p TransportParameters) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIncomingStreams:    streamLimit(p.MaxBidiStreams),
		MaxIncomingUniStreams: streamLimit(p.MaxUniStreams),
		MaxIdleTimeout:        p.IdleTimeout,
		HandshakeIdleTimeout:  p.HandshakeTimeout,
		KeepAlivePeriod:       p.KeepAlivePeriod,
	}
}

// quic-go reads 0 as "use the default" and a negative value as "none".
func streamLimit(n int64) int64 {
	if n <= 0 {
		return -1
	}
	return n
}
