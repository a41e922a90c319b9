// Command client makes one QUIC connection to a server, reports it, closes
// it and waits for the endpoint to go idle.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Liangxia6/quicboot/config"
	"github.com/Liangxia6/quicboot/trust"
	"github.com/Liangxia6/quicboot/wrapper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a QUIC server and verify its certificate",
		Long: `Connects to the server, verifying its certificate against the roots in
--roots (or the system store). --insecure-skip-verify turns verification off
and must only be used against a loopback test server.

Every flag can also be set as QUICBOOT_<SECTION>_<KEY> or in a YAML file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), cfgFile)
			if err != nil {
				return err
			}
			return (&client{cfg: cfg, out: cmd.OutOrStdout()}).run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "path to a YAML configuration file")
	config.RegisterClientFlags(cmd.Flags())
	return cmd
}

type client struct {
	cfg        *config.Config
	out        io.Writer
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

func (c *client) run(ctx context.Context) error {
	logger, err := wrapper.NewLogger(c.cfg.Log.Level, c.cfg.Trace)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("client")

	if c.registerer == nil {
		c.registerer, c.gatherer = prometheus.DefaultRegisterer, prometheus.DefaultGatherer
	}
	metrics := wrapper.NewMetrics(c.registerer)
	if c.cfg.Metrics.Addr != "" {
		msrv, _, err := wrapper.ServeMetrics(c.cfg.Metrics.Addr, c.gatherer, logger)
		if err != nil {
			return err
		}
		defer func() { _ = msrv.Close() }()
	}

	policy, err := buildPolicy(c.cfg.Client)
	if err != nil {
		return err
	}
	if policy.Insecure() {
		logger.Warn("server certificate verification is disabled")
	}

	ccfg := wrapper.NewClientConfig(policy, c.cfg.Transport.Params(), wrapper.WithALPN(c.cfg.ALPN...))
	ep, err := wrapper.BindEphemeral(ccfg,
		wrapper.WithLocalAddr(c.cfg.Client.LocalAddr),
		wrapper.WithLogger(logger),
		wrapper.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	defer ep.Close()

	conn, err := ep.Connect(ctx, c.cfg.Client.ServerAddr, c.cfg.Client.ServerName,
		wrapper.WithTimeout(c.cfg.Client.ConnectTimeout))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "[client] connected: addr=%s\n", conn.RemoteAddr())
	logger.Debug("peer certificate", zap.Int("chain_len", len(conn.PeerCertificates())))

	conn.Release()
	if err := ep.WaitIdle(ctx); err != nil {
		return fmt.Errorf("wait idle: %w", err)
	}
	return nil
}

func buildPolicy(cfg config.ClientConfig) (trust.Policy, error) {
	switch {
	case cfg.InsecureSkipVerify:
		return trust.InsecureSkipVerify(), nil
	case cfg.Roots != "":
		roots, err := trust.LoadRootsFile(cfg.Roots)
		if err != nil {
			return trust.Policy{}, err
		}
		return trust.Strict(roots), nil
	default:
		roots, err := trust.SystemRoots()
		if err != nil {
			return trust.Policy{}, err
		}
		return trust.Strict(roots), nil
	}
}
