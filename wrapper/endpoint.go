package wrapper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/Liangxia6/quicboot/trust"
)

// ErrNotListening is returned by Accept on an endpoint made by BindEphemeral.
var ErrNotListening = errors.New("endpoint is not listening")

// DefaultClientBindAddr is the address BindEphemeral binds when WithLocalAddr
// is not given.
const DefaultClientBindAddr = ":0"

type endpointOptions struct {
	logger    *zap.Logger
	metrics   *Metrics
	localAddr string
	clientCfg *ClientConfig
}

// EndpointOption configures Listen and BindEphemeral.
type EndpointOption func(*endpointOptions)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) EndpointOption {
	return func(o *endpointOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the collectors. The default is an unregistered set.
func WithMetrics(m *Metrics) EndpointOption {
	return func(o *endpointOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLocalAddr sets the address BindEphemeral binds. Listen ignores it.
func WithLocalAddr(addr string) EndpointOption {
	return func(o *endpointOptions) { o.localAddr = addr }
}

// WithDefaultClientConfig lets a listening endpoint dial too.
func WithDefaultClientConfig(cfg *ClientConfig) EndpointOption {
	return func(o *endpointOptions) { o.clientCfg = cfg }
}

// Endpoint is one bound UDP socket with a QUIC transport on top. A server
// endpoint also runs a listener.
type Endpoint struct {
	role      Role
	sock      *udpSocket
	tr        *quic.Transport
	ln        *quic.Listener
	localAddr net.Addr

	serverCfg *ServerConfig
	clientCfg *ClientConfig

	reg     *registry
	log     eventLogger
	metrics *Metrics

	// ctx is cancelled by Close; pending Connect calls derive from it.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

func bind(role Role, addr string, o endpointOptions) (*Endpoint, error) {
	sock, err := listenUDP(addr)
	if err != nil {
		return nil, err
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	sock.onRead = o.metrics.datagramIn
	sock.onWrite = o.metrics.datagramOut

	ctx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		role:      role,
		sock:      sock,
		tr:        &quic.Transport{Conn: sock},
		localAddr: sock.LocalAddr(),
		clientCfg: o.clientCfg,
		reg:       newRegistry(),
		metrics:   o.metrics,
		ctx:       ctx,
		cancel:    cancel,
	}
	e.log = newEventLogger(o.logger, role, e.localAddr.String())
	return e, nil
}

// Listen binds addr and starts accepting handshakes with cfg. Nothing stays
// bound when it fails.
func Listen(addr string, cfg *ServerConfig, opts ...EndpointOption) (*Endpoint, error) {
	if cfg == nil {
		return nil, errors.New("listen: nil server config")
	}
	var o endpointOptions
	for _, opt := range opts {
		opt(&o)
	}

	e, err := bind(RoleServer, addr, o)
	if err != nil {
		return nil, err
	}
	ln, err := e.tr.Listen(cfg.tlsConfig(), cfg.quicConfig())
	if err != nil {
		_ = e.tr.Close()
		_ = e.sock.Close()
		e.cancel()
		return nil, &BindError{Addr: addr, Err: fmt.Errorf("listen quic: %w", err)}
	}
	e.ln = ln
	e.serverCfg = cfg
	e.log.listening(cfg.ALPN())
	return e, nil
}

// BindEphemeral binds an OS-assigned port for outbound connections made with
// cfg.
func BindEphemeral(cfg *ClientConfig, opts ...EndpointOption) (*Endpoint, error) {
	o := endpointOptions{localAddr: DefaultClientBindAddr}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg != nil {
		o.clientCfg = cfg
	}
	if o.localAddr == "" {
		o.localAddr = DefaultClientBindAddr
	}

	e, err := bind(RoleClient, o.localAddr, o)
	if err != nil {
		return nil, err
	}
	e.log.bound()
	return e, nil
}

// Role is RoleServer for endpoints made by Listen.
func (e *Endpoint) Role() Role { return e.role }

// LocalAddr is the bound address. It stays valid after Close.
func (e *Endpoint) LocalAddr() net.Addr { return e.localAddr }

// Connections returns the live connections at the time of the call.
func (e *Endpoint) Connections() []*Conn { return e.reg.snapshot() }

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Accept waits for the next completed incoming handshake. Handshakes that
// fail never reach Accept. Cancelling ctx aborts this call only.
func (e *Endpoint) Accept(ctx context.Context) (*Conn, error) {
	if e.ln == nil {
		return nil, ErrNotListening
	}
	if e.isClosed() {
		return nil, ErrEndpointClosed
	}

	qc, err := e.ln.Accept(ctx)
	if err != nil {
		if e.isClosed() || errors.Is(err, quic.ErrServerClosed) {
			return nil, ErrEndpointClosed
		}
		return nil, err
	}

	c := newConn(e, qc, RoleServer)
	if err := e.track(c); err != nil {
		return nil, err
	}
	e.metrics.handshakeSucceeded(RoleServer)
	e.log.accepted(c)
	return c, nil
}

type connectOptions struct {
	cfg      *ClientConfig
	deadline time.Time
	timeout  time.Duration
}

// ConnectOption adjusts one Connect call.
type ConnectOption func(*connectOptions)

// WithClientConfig overrides the endpoint's client config for one attempt.
func WithClientConfig(cfg *ClientConfig) ConnectOption {
	return func(o *connectOptions) {
		if cfg != nil {
			o.cfg = cfg
		}
	}
}

// WithDeadline bounds the attempt at t.
func WithDeadline(t time.Time) ConnectOption {
	return func(o *connectOptions) { o.deadline = t }
}

// WithTimeout bounds the attempt at d from the start of Connect.
func WithTimeout(d time.Duration) ConnectOption {
	return func(o *connectOptions) { o.timeout = d }
}

// Connect performs one handshake with addr. serverName is sent as SNI and is
// the name the trust policy checks. There is no retry.
//
// A handshake failure is a *HandshakeError. Cancelling ctx returns the
// context error unchanged.
func (e *Endpoint) Connect(ctx context.Context, addr, serverName string, opts ...ConnectOption) (*Conn, error) {
	o := connectOptions{cfg: e.clientCfg}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cfg == nil {
		return nil, ErrNoClientConfig
	}
	if e.isClosed() {
		return nil, ErrEndpointClosed
	}

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	if !o.deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, o.deadline)
		defer cancel()
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	parent := ctx
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(e.ctx, func() { cancel(ErrEndpointClosed) })
	defer stop()

	var (
		mu       sync.Mutex
		rejected *trust.Decision
	)
	record := func(d trust.Decision) {
		if d.Accepted {
			return
		}
		mu.Lock()
		rejected = &d
		mu.Unlock()
	}

	start := time.Now()
	qc, err := e.tr.Dial(ctx, raddr, o.cfg.tlsConfig(serverName, record), o.cfg.quicConfig())
	elapsed := time.Since(start)
	if err != nil {
		if e.isClosed() || errors.Is(context.Cause(ctx), ErrEndpointClosed) {
			return nil, ErrEndpointClosed
		}
		if errors.Is(parent.Err(), context.Canceled) {
			return nil, parent.Err()
		}
		mu.Lock()
		he := classify(addr, err, rejected)
		mu.Unlock()
		e.metrics.handshakeFailed(RoleClient, he.Reason)
		e.log.handshakeFailed(he, serverName, elapsed)
		return nil, he
	}

	c := newConn(e, qc, RoleClient)
	if err := e.track(c); err != nil {
		return nil, err
	}
	e.metrics.handshakeSucceeded(RoleClient)
	e.metrics.observeHandshake(RoleClient, elapsed)
	e.log.connected(c, serverName, elapsed)
	return c, nil
}

// track registers c unless the endpoint closed while the handshake ran, in
// which case c is closed straight away.
func (e *Endpoint) track(c *Conn) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = c.Close()
		return ErrEndpointClosed
	}
	e.reg.add(c)
	e.mu.Unlock()

	e.metrics.connectionOpened(c.role)
	go e.watch(c)
	return nil
}

// watch is the only remover of c, and it removes last so WaitIdle observes
// the gauge and log already updated.
func (e *Endpoint) watch(c *Conn) {
	<-c.Done()
	e.metrics.connectionClosed(c.role)
	e.log.connClosed(c, c.CloseReason())
	e.reg.remove(c)
}

// WaitIdle returns once no connection is live, at once if none is.
func (e *Endpoint) WaitIdle(ctx context.Context) error {
	return e.reg.wait(ctx)
}

// Close sends one CONNECTION_CLOSE per live connection, then stops the
// listener, the transport and the socket. It is safe to call more than once;
// later calls return the first result.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.cancel()

		conns := e.reg.snapshot()
		for _, c := range conns {
			_ = c.Close()
		}

		var errs []error
		if e.ln != nil {
			if err := e.ln.Close(); err != nil && !errors.Is(err, quic.ErrServerClosed) {
				errs = append(errs, fmt.Errorf("close listener: %w", err))
			}
		}
		if err := e.tr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
		if err := e.sock.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close udp: %w", err))
		}
		e.closeErr = errors.Join(errs...)
		e.log.closed(len(conns))
	})
	return e.closeErr
}
