// Package trust decides whether a certificate chain presented by a server is
// acceptable.
//
// A Policy is one of two variants:
//
//   - Strict: the chain must build to a root in a caller-supplied store and
//     the leaf must carry the requested server name.
//   - InsecureSkipVerify: every chain is accepted. It removes server
//     authentication and exists for loopback tests only; it is never the
//     zero value and must be asked for by name.
//
// The zero Policy is Strict with an empty root store, so it rejects
// everything.
package trust

import (
	"crypto/x509"
	"fmt"
	"time"
)

// Mode tags the Policy variant.
type Mode int

const (
	ModeStrict Mode = iota
	ModeInsecureSkipVerify
)

func (m Mode) String() string {
	switch m {
	case ModeStrict:
		return "strict"
	case ModeInsecureSkipVerify:
		return "insecure-skip-verify"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Decision is the outcome of one Verify call. It is computed per handshake
// and never cached.
type Decision struct {
	Accepted bool
	Reason   string
}

// Accept returns an accepting Decision.
func Accept() Decision { return Decision{Accepted: true} }

// Reject returns a rejecting Decision with a formatted reason.
func Reject(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Err is nil for an accepted decision and a *RejectedError otherwise.
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return &RejectedError{Reason: d.Reason}
}

func (d Decision) String() string {
	if d.Accepted {
		return "accepted"
	}
	return "rejected: " + d.Reason
}

// RejectedError carries the reason a chain was refused.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "certificate rejected: " + e.Reason
}

// Policy is the trust variant consumed by client endpoint configuration.
type Policy struct {
	mode  Mode
	roots *x509.CertPool
	clock func() time.Time
}

// Strict validates chains against roots. A nil pool is treated as empty; the
// system store is never consulted implicitly (see SystemRoots).
func Strict(roots *x509.CertPool) Policy {
	return Policy{mode: ModeStrict, roots: roots}
}

// InsecureSkipVerify accepts any chain, including empty or malformed ones.
// Only for local loopback testing.
func InsecureSkipVerify() Policy {
	return Policy{mode: ModeInsecureSkipVerify}
}

// Mode reports the variant.
func (p Policy) Mode() Mode { return p.mode }

// Insecure reports whether the policy skips verification.
func (p Policy) Insecure() bool { return p.mode == ModeInsecureSkipVerify }

// At returns a copy of p that verifies as of t instead of the current time.
func (p Policy) At(t time.Time) Policy {
	p.clock = func() time.Time { return t }
	return p
}

func (p Policy) String() string { return p.mode.String() }

// Verify evaluates a DER chain (leaf first) for serverName.
func (p Policy) Verify(chain [][]byte, serverName string) Decision {
	switch p.mode {
	case ModeInsecureSkipVerify:
		return Accept()
	case ModeStrict:
		return p.verifyStrict(chain, serverName)
	default:
		return Reject("unknown trust mode %d", int(p.mode))
	}
}

func (p Policy) verifyStrict(chain [][]byte, serverName string) Decision {
	if len(chain) == 0 {
		return Reject("empty certificate chain")
	}
	if serverName == "" {
		return Reject("no server name to match against")
	}

	certs := make([]*x509.Certificate, 0, len(chain))
	for i, der := range chain {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return Reject("parse certificate %d: %v", i, err)
		}
		certs = append(certs, c)
	}

	roots := p.roots
	if roots == nil {
		roots = x509.NewCertPool()
	}
	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}

	now := time.Now()
	if p.clock != nil {
		now = p.clock()
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		DNSName:       serverName,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if _, err := certs[0].Verify(opts); err != nil {
		return Reject("%v", err)
	}
	return Accept()
}
