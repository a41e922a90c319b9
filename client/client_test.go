package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Liangxia6/quicboot/config"
	"github.com/Liangxia6/quicboot/identity"
	"github.com/Liangxia6/quicboot/trust"
	"github.com/Liangxia6/quicboot/wrapper"
)

func startServer(t *testing.T, ctx context.Context) (*wrapper.Endpoint, identity.Identity) {
	t.Helper()
	id, err := identity.Generate([]string{"localhost"})
	require.NoError(t, err)
	scfg, err := wrapper.NewServerConfig(id, wrapper.DefaultTransportParameters())
	require.NoError(t, err)
	ep, err := wrapper.Listen("127.0.0.1:0", scfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close() })

	go func() {
		for {
			if _, err := ep.Accept(ctx); err != nil {
				return
			}
		}
	}()
	return ep, id
}

func testClient(t *testing.T, serverAddr string, mutate func(*config.ClientConfig)) (*client, *bytes.Buffer) {
	t.Helper()
	cfg, err := config.Load(nil, "")
	require.NoError(t, err)
	cfg.Log.Level = "error"
	cfg.Client.ServerAddr = serverAddr
	cfg.Client.ConnectTimeout = 5 * time.Second
	mutate(&cfg.Client)

	reg := prometheus.NewRegistry()
	out := &bytes.Buffer{}
	return &client{cfg: cfg, out: out, registerer: reg, gatherer: reg}, out
}

func writeRoots(t *testing.T, id identity.Identity) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roots.pem")
	require.NoError(t, os.WriteFile(path, id.CertPEM(), 0o600))
	return path
}

func TestClientInsecureSkipVerify(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, _ := startServer(t, ctx)
	c, out := testClient(t, srv.LocalAddr().String(), func(cc *config.ClientConfig) {
		cc.InsecureSkipVerify = true
	})

	require.NoError(t, c.run(ctx))
	assert.Equal(t, "[client] connected: addr="+srv.LocalAddr().String()+"\n", out.String())
	require.NoError(t, srv.WaitIdle(ctx))
}

func TestClientStrictWithRoots(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, id := startServer(t, ctx)
	c, out := testClient(t, srv.LocalAddr().String(), func(cc *config.ClientConfig) {
		cc.Roots = writeRoots(t, id)
	})

	require.NoError(t, c.run(ctx))
	assert.Contains(t, out.String(), "[client] connected")
}

func TestClientStrictRejectsUnknownServer(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, _ := startServer(t, ctx)
	other, err := identity.Generate([]string{"localhost"})
	require.NoError(t, err)
	c, out := testClient(t, srv.LocalAddr().String(), func(cc *config.ClientConfig) {
		cc.Roots = writeRoots(t, other)
	})

	err = c.run(ctx)
	var he *wrapper.HandshakeError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, wrapper.TrustRejected, he.Reason)
	assert.Empty(t, out.String())
}

func TestBuildPolicy(t *testing.T) {
	t.Parallel()

	p, err := buildPolicy(config.ClientConfig{InsecureSkipVerify: true, Roots: "ignored.pem"})
	require.NoError(t, err)
	assert.Equal(t, trust.ModeInsecureSkipVerify, p.Mode())

	_, err = buildPolicy(config.ClientConfig{Roots: filepath.Join(t.TempDir(), "missing.pem")})
	assert.ErrorContains(t, err, "read roots")
}
