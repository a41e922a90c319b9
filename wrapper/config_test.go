package wrapper

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Liangxia6/quicboot/identity"
	"github.com/Liangxia6/quicboot/trust"
)

func TestDefaultTransportParameters(t *testing.T) {
	t.Parallel()

	p := DefaultTransportParameters()
	require.NoError(t, p.Validate())
	assert.Zero(t, p.MaxUniStreams)

	qc := p.quicConfig()
	assert.Equal(t, int64(-1), qc.MaxIncomingUniStreams, "zero must disable, not default")
	assert.Equal(t, int64(100), qc.MaxIncomingStreams)
	assert.Equal(t, 30*time.Second, qc.MaxIdleTimeout)
	assert.Equal(t, 10*time.Second, qc.HandshakeIdleTimeout)
	assert.Zero(t, qc.KeepAlivePeriod)
}

func TestTransportParametersValidate(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*TransportParameters){
		"negative uni":       func(p *TransportParameters) { p.MaxUniStreams = -1 },
		"negative bidi":      func(p *TransportParameters) { p.MaxBidiStreams = -3 },
		"zero idle":          func(p *TransportParameters) { p.IdleTimeout = 0 },
		"zero handshake":     func(p *TransportParameters) { p.HandshakeTimeout = 0 },
		"negative keepalive": func(p *TransportParameters) { p.KeepAlivePeriod = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := DefaultTransportParameters()
			mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestQuicConfigIsFreshEachCall(t *testing.T) {
	t.Parallel()

	p := DefaultTransportParameters()
	assert.NotSame(t, p.quicConfig(), p.quicConfig())
}

func TestNewServerConfig(t *testing.T) {
	t.Parallel()

	id, err := identity.Generate([]string{"localhost"})
	require.NoError(t, err)

	cfg, err := NewServerConfig(id, DefaultTransportParameters())
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultALPN}, cfg.ALPN())

	tc := cfg.tlsConfig()
	require.Len(t, tc.Certificates, 1)
	assert.Equal(t, id.CertDER, tc.Certificates[0].Certificate[0])
	assert.Equal(t, uint16(tls.VersionTLS13), tc.MinVersion)

	alpn := cfg.ALPN()
	alpn[0] = "mutated"
	assert.Equal(t, []string{DefaultALPN}, cfg.ALPN())
}

func TestNewServerConfigInvalidIdentity(t *testing.T) {
	t.Parallel()

	_, err := NewServerConfig(identity.Identity{}, DefaultTransportParameters())
	assert.Error(t, err)

	id, err := identity.Generate([]string{"localhost"})
	require.NoError(t, err)
	other, err := identity.Generate([]string{"localhost"})
	require.NoError(t, err)
	_, err = NewServerConfig(identity.Identity{CertDER: id.CertDER, KeyDER: other.KeyDER}, DefaultTransportParameters())
	assert.ErrorContains(t, err, "invalid identity")
}

func TestNewClientConfig(t *testing.T) {
	t.Parallel()

	cfg := NewClientConfig(trust.InsecureSkipVerify(), TransportParameters{MaxUniStreams: -1, MaxBidiStreams: -1}, WithALPN("", "h3"))
	assert.True(t, cfg.Policy().Insecure())
	assert.Equal(t, []string{"h3"}, cfg.ALPN())
	assert.Equal(t, DefaultTransportParameters(), cfg.Params(), "invalid fields fall back to defaults")

	var got *trust.Decision
	tc := cfg.tlsConfig("localhost", func(d trust.Decision) { got = &d })
	assert.Equal(t, "localhost", tc.ServerName)
	assert.True(t, tc.InsecureSkipVerify)
	require.NoError(t, tc.VerifyPeerCertificate(nil, nil))
	require.NotNil(t, got)
	assert.True(t, got.Accepted)
}

func TestClientConfigRecordsRejection(t *testing.T) {
	t.Parallel()

	id, err := identity.Generate([]string{"localhost"})
	require.NoError(t, err)

	cfg := NewClientConfig(trust.Strict(nil), DefaultTransportParameters())
	var got trust.Decision
	tc := cfg.tlsConfig("localhost", func(d trust.Decision) { got = d })

	err = tc.VerifyPeerCertificate([][]byte{id.CertDER}, nil)
	var rejected *trust.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.False(t, got.Accepted)
	assert.Equal(t, got.Reason, rejected.Reason)
}
