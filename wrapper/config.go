package wrapper

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"slices"

	"github.com/quic-go/quic-go"

	"github.com/Liangxia6/quicboot/identity"
	"github.com/Liangxia6/quicboot/trust"
)

// DefaultALPN is negotiated when no WithALPN option is given.
const DefaultALPN = "quicboot/1"

type configOptions struct {
	alpn []string
}

// ConfigOption adjusts a ServerConfig or ClientConfig.
type ConfigOption func(*configOptions)

// WithALPN replaces the advertised application protocols. Empty entries are
// dropped; an empty list keeps DefaultALPN.
func WithALPN(protos ...string) ConfigOption {
	return func(o *configOptions) {
		var out []string
		for _, p := range protos {
			if p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			o.alpn = out
		}
	}
}

func buildConfigOptions(opts []ConfigOption) configOptions {
	o := configOptions{alpn: []string{DefaultALPN}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ServerConfig is everything a listening endpoint needs: the identity it
// presents and the transport parameters it enforces.
type ServerConfig struct {
	cert   tls.Certificate
	alpn   []string
	params TransportParameters
}

// NewServerConfig fails only when the identity cannot be decoded.
func NewServerConfig(id identity.Identity, params TransportParameters, opts ...ConfigOption) (*ServerConfig, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("transport parameters: %w", err)
	}
	cert, err := id.TLSCertificate()
	if err != nil {
		return nil, fmt.Errorf("invalid identity: %w", err)
	}
	o := buildConfigOptions(opts)
	return &ServerConfig{cert: cert, alpn: o.alpn, params: params}, nil
}

// Params returns the transport parameters.
func (c *ServerConfig) Params() TransportParameters { return c.params }

// ALPN returns a copy of the advertised protocols.
func (c *ServerConfig) ALPN() []string { return slices.Clone(c.alpn) }

func (c *ServerConfig) tlsConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.cert},
		NextProtos:   slices.Clone(c.alpn),
		MinVersion:   tls.VersionTLS13,
	}
}

func (c *ServerConfig) quicConfig() *quic.Config { return c.params.quicConfig() }

// ClientConfig carries the trust policy applied to every outbound attempt.
type ClientConfig struct {
	policy trust.Policy
	alpn   []string
	params TransportParameters
}

// NewClientConfig always succeeds. Invalid parameters are replaced by the
// defaults field by field.
func NewClientConfig(policy trust.Policy, params TransportParameters, opts ...ConfigOption) *ClientConfig {
	o := buildConfigOptions(opts)
	return &ClientConfig{policy: policy, alpn: o.alpn, params: sanitize(params)}
}

// Policy returns the trust policy.
func (c *ClientConfig) Policy() trust.Policy { return c.policy }

// Params returns the transport parameters.
func (c *ClientConfig) Params() TransportParameters { return c.params }

// ALPN returns a copy of the advertised protocols.
func (c *ClientConfig) ALPN() []string { return slices.Clone(c.alpn) }

// tlsConfig builds a per-attempt config. crypto/tls never verifies on its
// own; the policy runs in VerifyPeerCertificate and its decision is handed
// to record so a rejection can be told apart from other alerts.
func (c *ClientConfig) tlsConfig(serverName string, record func(trust.Decision)) *tls.Config {
	policy := c.policy
	return &tls.Config{
		ServerName:         serverName,
		NextProtos:         slices.Clone(c.alpn),
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true, // #nosec G402 -- verification is done by policy below
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			d := policy.Verify(rawCerts, serverName)
			record(d)
			return d.Err()
		},
	}
}

func (c *ClientConfig) quicConfig() *quic.Config { return c.params.quicConfig() }

func sanitize(p TransportParameters) TransportParameters {
	def := DefaultTransportParameters()
	if p.MaxUniStreams < 0 {
		p.MaxUniStreams = def.MaxUniStreams
	}
	if p.MaxBidiStreams < 0 {
		p.MaxBidiStreams = def.MaxBidiStreams
	}
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = def.IdleTimeout
	}
	if p.HandshakeTimeout <= 0 {
		p.HandshakeTimeout = def.HandshakeTimeout
	}
	if p.KeepAlivePeriod < 0 {
		p.KeepAlivePeriod = 0
	}
	return p
}
