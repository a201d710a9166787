package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaytun/relaytun/internal/config"
	"github.com/relaytun/relaytun/internal/listener"
	"github.com/relaytun/relaytun/internal/metrics"
	"github.com/relaytun/relaytun/internal/relay"
	"github.com/relaytun/relaytun/internal/transport"
)

func newRelayCommand(conf *config.Config) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "relay",
		Short:   "Run the public-facing and agent-facing listeners and pair them",
		Example: "relaytun relay --public-port=8080 --relay-port=8081 --secret=s3cret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRelay(cmd, conf)
		},
	}

	if err := conf.BindFlags(cmd.Flags(), config.RelayOptions); err != nil {
		return nil, err
	}

	return cmd, nil
}

func runRelay(cmd *cobra.Command, conf *config.Config) error {
	log := newLogger(conf.RelaySilent())

	var m *metrics.Metrics
	components := []transport.Component{}

	if addr := conf.RelayMetricsAddress(); addr != "" {
		m = metrics.New()
		components = append(components, metrics.NewServer(addr, m))
	}

	r, err := relay.New(relay.Config{
		PublicListener: listener.Config{
			Address:       conf.RelayPublicAddress(),
			Transport:     transportFor(conf.RelayPublicTLS()),
			Pfx:           conf.RelayPublicPfx(),
			Passphrase:    conf.RelayPublicPassphrase(),
			CertFile:      conf.RelayPublicCert(),
			KeyFile:       conf.RelayPublicKey(),
			AutogenCertCN: conf.RelayPublicCertCN(),
			CaCert:        conf.RelayPublicCaCert(),
			RequestCert:   conf.RelayPublicRequestCert(),
			IdleTimeout:   conf.RelayPublicTimeout(),
		},
		RelayListener: listener.Config{
			Address:       conf.RelayRelayAddress(),
			Transport:     transportFor(conf.RelayRelayTLS()),
			Pfx:           conf.RelayRelayPfx(),
			Passphrase:    conf.RelayRelayPassphrase(),
			CertFile:      conf.RelayRelayCert(),
			KeyFile:       conf.RelayRelayKey(),
			AutogenCertCN: conf.RelayRelayCertCN(),
			CaCert:        conf.RelayRelayCaCert(),
			RequestCert:   conf.RelayRelayRequestCert(),
			Secret:        conf.RelaySecret(),
			IdleTimeout:   conf.RelayRelayTimeout(),
		},
		Metrics: m,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize relay: %w", err)
	}

	components = append(components, r)

	log.Info("relay starting", "public_address", r.PublicAddr(), "relay_address", r.AgentAddr())
	return transport.Serve(cmd.Context(), components...)
}

func transportFor(tlsEnabled bool) listener.Transport {
	if tlsEnabled {
		return listener.TLS
	}
	return listener.Plain
}

func newLogger(silent bool) *slog.Logger {
	level := slog.LevelInfo
	if silent {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
