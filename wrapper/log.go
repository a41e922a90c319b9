package wrapper

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger for the entry points. trace (the TRACE
// switch) selects a development encoder at debug level regardless of level.
func NewLogger(level string, trace bool) (*zap.Logger, error) {
	if trace {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// eventLogger scopes endpoint events to one endpoint.
type eventLogger struct {
	l *zap.Logger
}

func newEventLogger(l *zap.Logger, role Role, local string) eventLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return eventLogger{l: l.With(
		zap.String("component", "quicboot"),
		zap.String("role", role.String()),
		zap.String("local_addr", local),
	)}
}

func (e eventLogger) listening(alpn []string) {
	e.l.Info("listening", zap.String("event", "listening"), zap.Strings("alpn", alpn))
}

func (e eventLogger) bound() {
	e.l.Debug("bound ephemeral port", zap.String("event", "bound"))
}

func (e eventLogger) accepted(c *Conn) {
	e.l.Info("connection accepted",
		zap.String("event", "accepted"),
		zap.Stringer("conn_id", c.id),
		zap.Stringer("remote_addr", c.RemoteAddr()),
		zap.String("alpn", c.NegotiatedProtocol()),
	)
}

func (e eventLogger) connected(c *Conn, serverName string, d time.Duration) {
	e.l.Info("connected",
		zap.String("event", "connected"),
		zap.Stringer("conn_id", c.id),
		zap.Stringer("remote_addr", c.RemoteAddr()),
		zap.String("server_name", serverName),
		zap.Duration("handshake_duration", d),
	)
}

func (e eventLogger) handshakeFailed(err *HandshakeError, serverName string, d time.Duration) {
	level := zapcore.ErrorLevel
	if err.Reason == Timeout {
		level = zapcore.WarnLevel
	}
	e.l.Log(level, "handshake failed",
		zap.String("event", "handshake_failure"),
		zap.String("remote_addr", err.Addr),
		zap.String("server_name", serverName),
		zap.Stringer("reason", err.Reason),
		zap.Error(err),
		zap.Duration("handshake_duration", d),
	)
}

func (e eventLogger) connClosed(c *Conn, cause error) {
	e.l.Debug("connection closed",
		zap.String("event", "conn_closed"),
		zap.Stringer("conn_id", c.id),
		zap.Stringer("remote_addr", c.RemoteAddr()),
		zap.NamedError("cause", cause),
	)
}

func (e eventLogger) closed(live int) {
	e.l.Info("endpoint closed", zap.String("event", "endpoint_closed"), zap.Int("live_conns", live))
}
