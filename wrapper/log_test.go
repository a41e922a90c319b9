package wrapper

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	l, err := NewLogger("warn", false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = NewLogger("error", true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger("chatty", false)
	assert.Error(t, err)
}

func TestHandshakeFailureLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	el := newEventLogger(zap.New(core), RoleClient, "127.0.0.1:1234")

	el.handshakeFailed(&HandshakeError{Reason: Timeout, Addr: "127.0.0.1:5000", Err: errors.New("deadline")}, "localhost", time.Second)
	el.handshakeFailed(&HandshakeError{Reason: TrustRejected, Addr: "127.0.0.1:5000", Err: errors.New("bad chain")}, "localhost", time.Millisecond)

	entries := logs.FilterMessage("handshake failed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)

	fields := entries[1].ContextMap()
	assert.Equal(t, "client", fields["role"])
	assert.Equal(t, "trust_rejected", fields["reason"])
	assert.Equal(t, "127.0.0.1:1234", fields["local_addr"])
}
