package wrapper

import (
	"context"
	"crypto/x509"
	"net"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
)

// Role says which side of the handshake a connection or endpoint plays.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

const closeMessage = "session end"

// Conn is one established, authenticated QUIC connection. It starts with one
// reference, held by whoever received it from Accept or Connect.
type Conn struct {
	id   uuid.UUID
	qc   *quic.Conn
	ep   *Endpoint
	role Role

	peerCerts []*x509.Certificate

	refs      atomic.Int64
	closeOnce sync.Once
}

func newConn(ep *Endpoint, qc *quic.Conn, role Role) *Conn {
	c := &Conn{
		id:        uuid.New(),
		qc:        qc,
		ep:        ep,
		role:      role,
		peerCerts: qc.ConnectionState().TLS.PeerCertificates,
	}
	c.refs.Store(1)
	return c
}

// ID is unique per process.
func (c *Conn) ID() uuid.UUID { return c.id }

// Endpoint returns the endpoint the connection was made on. The endpoint is
// not kept alive by the connection.
func (c *Conn) Endpoint() *Endpoint { return c.ep }

// Role is RoleServer for accepted and RoleClient for dialed connections.
func (c *Conn) Role() Role { return c.role }

func (c *Conn) RemoteAddr() net.Addr { return c.qc.RemoteAddr() }

func (c *Conn) LocalAddr() net.Addr { return c.qc.LocalAddr() }

// PeerCertificates is the chain the peer presented, leaf first. It is empty
// on the server side.
func (c *Conn) PeerCertificates() []*x509.Certificate { return slices.Clone(c.peerCerts) }

// NegotiatedProtocol is the ALPN both sides agreed on.
func (c *Conn) NegotiatedProtocol() string {
	return c.qc.ConnectionState().TLS.NegotiatedProtocol
}

// Done is closed once the connection is gone, whichever side ended it.
func (c *Conn) Done() <-chan struct{} { return c.qc.Context().Done() }

// CloseReason is nil while the connection is open. Afterwards it is the
// quic-go error that ended it, such as *quic.ApplicationError.
func (c *Conn) CloseReason() error {
	ctx := c.qc.Context()
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}

// Acquire adds a reference. It fails once the last reference is gone.
func (c *Conn) Acquire() bool {
	for {
		n := c.refs.Load()
		if n <= 0 {
			return false
		}
		if c.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference; dropping the last one closes the connection.
// Extra calls are ignored.
func (c *Conn) Release() {
	for {
		n := c.refs.Load()
		if n <= 0 {
			return
		}
		if c.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				_ = c.Close()
			}
			return
		}
	}
}

// Close sends one CONNECTION_CLOSE with application code 0 regardless of
// outstanding references. Later calls, and calls after the peer closed, do
// nothing.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.refs.Store(0)
		if c.qc.Context().Err() != nil {
			return
		}
		err := c.qc.CloseWithError(0, closeMessage)
		if err == nil && c.ep != nil {
			c.ep.metrics.closeSignalSent(c.role)
		}
	})
	return nil
}
