// Package identity generates the self-signed certificate a listening
// endpoint presents during the QUIC handshake.
//
// An Identity lives in memory only. Nothing here writes to disk; callers that
// want to hand the certificate to a client (for a strict root store) export it
// with CertPEM.
package identity

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sort"
	"strings"
	"time"
)

// DefaultValidity is how long a generated certificate stays valid.
const DefaultValidity = 365 * 24 * time.Hour

// ErrNoSubjectNames is returned when Generate is called without any usable name.
var ErrNoSubjectNames = errors.New("no subject names")

// GenerationError reports a failure to produce an identity. It is fatal: a
// failing key generator or encoder means the crypto backend is broken.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("certificate generation: %s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Identity is a DER certificate and its PKCS#8 DER private key.
type Identity struct {
	CertDER []byte
	KeyDER  []byte
}

type options struct {
	validity time.Duration
	now      func() time.Time
}

// Option tweaks certificate generation.
type Option func(*options)

// WithValidity overrides DefaultValidity.
func WithValidity(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.validity = d
		}
	}
}

// WithClock sets the time the validity window is computed from.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Generate creates a fresh self-signed identity for names. IP literals become
// IP SANs, everything else a DNS SAN.
func Generate(names []string, opts ...Option) (Identity, error) {
	o := options{validity: DefaultValidity, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	names = normalize(names)
	if len(names) == 0 {
		return Identity{}, &GenerationError{Op: "subject names", Err: ErrNoSubjectNames}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Identity{}, &GenerationError{Op: "generate key", Err: err}
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Identity{}, &GenerationError{Op: "generate serial", Err: err}
	}

	now := o.now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: names[0]},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(o.validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, n := range names {
		if ip := net.ParseIP(n); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
			continue
		}
		tmpl.DNSNames = append(tmpl.DNSNames, n)
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return Identity{}, &GenerationError{Op: "create certificate", Err: err}
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return Identity{}, &GenerationError{Op: "encode private key", Err: err}
	}

	return Identity{CertDER: der, KeyDER: keyDER}, nil
}

// Certificate parses the DER certificate.
func (id Identity) Certificate() (*x509.Certificate, error) {
	return x509.ParseCertificate(id.CertDER)
}

// TLSCertificate pairs the certificate with its key for a tls.Config.
// It fails if the key does not belong to the certificate.
func (id Identity) TLSCertificate() (tls.Certificate, error) {
	if len(id.CertDER) == 0 || len(id.KeyDER) == 0 {
		return tls.Certificate{}, errors.New("identity is empty")
	}
	leaf, err := id.Certificate()
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse certificate: %w", err)
	}
	key, err := x509.ParsePKCS8PrivateKey(id.KeyDER)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return tls.Certificate{}, fmt.Errorf("private key %T cannot sign", key)
	}
	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(leaf.PublicKey) {
		return tls.Certificate{}, errors.New("private key does not match certificate")
	}
	return tls.Certificate{
		Certificate: [][]byte{id.CertDER},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// SubjectNames returns the DNS and IP SANs of the certificate, sorted.
func (id Identity) SubjectNames() ([]string, error) {
	c, err := id.Certificate()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(c.DNSNames)+len(c.IPAddresses))
	out = append(out, c.DNSNames...)
	for _, ip := range c.IPAddresses {
		out = append(out, ip.String())
	}
	sort.Strings(out)
	return out, nil
}

// CertPEM encodes the certificate as a PEM block.
func (id Identity) CertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.CertDER})
}

// normalize trims, drops empties and duplicates, keeping first-seen order.
// IP literals are canonicalised so "::1" and "0:0::1" collapse.
func normalize(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if ip := net.ParseIP(n); ip != nil {
			n = ip.String()
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
