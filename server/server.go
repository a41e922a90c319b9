// Command server listens for one QUIC connection, presenting a freshly
// generated self-signed certificate, and exits once it is accepted. With
// --serve it keeps accepting until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Liangxia6/quicboot/config"
	"github.com/Liangxia6/quicboot/identity"
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
		Use:   "server",
		Short: "Accept an authenticated QUIC connection",
		Long: `Generates a self-signed certificate for the configured names, listens on
UDP and accepts one QUIC connection. Export the certificate with --cert-out
and hand it to the client's --roots for strict verification.

Every flag can also be set as QUICBOOT_<SECTION>_<KEY> or in a YAML file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), cfgFile)
			if err != nil {
				return err
			}
			return (&server{cfg: cfg, out: cmd.OutOrStdout()}).run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "path to a YAML configuration file")
	config.RegisterServerFlags(cmd.Flags())
	return cmd
}

type server struct {
	cfg *config.Config
	out io.Writer
	// registerer defaults to prometheus.DefaultRegisterer.
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	// listening, when set, receives the bound address.
	listening chan<- net.Addr
}

func (s *server) run(ctx context.Context) error {
	logger, err := wrapper.NewLogger(s.cfg.Log.Level, s.cfg.Trace)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("server")

	if s.registerer == nil {
		s.registerer, s.gatherer = prometheus.DefaultRegisterer, prometheus.DefaultGatherer
	}
	metrics := wrapper.NewMetrics(s.registerer)
	if s.cfg.Metrics.Addr != "" {
		msrv, _, err := wrapper.ServeMetrics(s.cfg.Metrics.Addr, s.gatherer, logger)
		if err != nil {
			return err
		}
		defer shutdown(msrv.Shutdown)
	}

	id, err := identity.Generate(s.cfg.Server.SubjectNames)
	if err != nil {
		return err
	}
	if path := s.cfg.Server.CertOut; path != "" {
		if err := os.WriteFile(path, id.CertPEM(), 0o644); err != nil { // #nosec G306 -- public certificate
			return fmt.Errorf("write certificate: %w", err)
		}
		logger.Info("certificate written", zap.String("path", path))
	}

	scfg, err := wrapper.NewServerConfig(id, s.cfg.Transport.Params(), wrapper.WithALPN(s.cfg.ALPN...))
	if err != nil {
		return err
	}
	ep, err := wrapper.Listen(s.cfg.Server.ListenAddr, scfg,
		wrapper.WithLogger(logger),
		wrapper.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	defer ep.Close()

	fmt.Fprintf(s.out, "[server] listening: addr=%s\n", ep.LocalAddr())
	if s.listening != nil {
		s.listening <- ep.LocalAddr()
	}

	for {
		conn, err := ep.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, wrapper.ErrEndpointClosed) || !s.cfg.Server.Serve {
				return err
			}
			logger.Warn("accept failed", zap.Error(err))
			continue
		}
		fmt.Fprintf(s.out, "[server] connection accepted: addr=%s\n", conn.RemoteAddr())
		if !s.cfg.Server.Serve {
			// Let the client close first; Close below covers a client that
			// never does.
			waitClosed(ctx, conn, s.cfg.Transport.IdleTimeout)
			return nil
		}
	}
}

func waitClosed(ctx context.Context, conn *wrapper.Conn, limit time.Duration) {
	t := time.NewTimer(limit)
	defer t.Stop()
	select {
	case <-conn.Done():
	case <-ctx.Done():
	case <-t.C:
	}
}

func shutdown(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = fn(ctx)
}
