package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaytun/relaytun/internal/agent"
	"github.com/relaytun/relaytun/internal/config"
	"github.com/relaytun/relaytun/internal/metrics"
	"github.com/relaytun/relaytun/internal/transport"
)

func newAgentCommand(conf *config.Config) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "agent",
		Short:   "Dial a relay and a target, keeping a warm pool of connections ready to pair",
		Example: "relaytun agent --target-host=127.0.0.1 --target-port=22 --relay-host=relay.example.com --relay-port=8081",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd, conf)
		},
	}

	if err := conf.BindFlags(cmd.Flags(), config.AgentOptions); err != nil {
		return nil, err
	}

	return cmd, nil
}

func runAgent(cmd *cobra.Command, conf *config.Config) error {
	log := newLogger(conf.AgentSilent())

	var m *metrics.Metrics
	components := []transport.Component{}

	if addr := conf.AgentMetricsAddress(); addr != "" {
		m = metrics.New()
		components = append(components, metrics.NewServer(addr, m))
	}

	pool, err := agent.New(agent.Config{
		RelayAddress:    conf.AgentRelayAddress(),
		RelayTLS:        conf.AgentRelayTLS(),
		RelayVerifyCert: conf.AgentRelayVerifyCert(),
		RelayCaCert:     conf.AgentRelayCaCert(),
		RelayClientCert: conf.AgentRelayClientCert(),
		RelayClientKey:  conf.AgentRelayClientKey(),
		RelayTimeout:    conf.AgentRelayTimeout(),

		TargetAddress:    conf.AgentTargetAddress(),
		TargetTLS:        conf.AgentTargetTLS(),
		TargetVerifyCert: conf.AgentTargetVerifyCert(),
		TargetCaCert:     conf.AgentTargetCaCert(),
		TargetTimeout:    conf.AgentTargetTimeout(),

		Secret:  conf.AgentSecret(),
		NumConn: conf.AgentRelayNumConn(),

		Metrics: m,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize agent pool: %w", err)
	}

	components = append(components, pool)

	log.Info("agent starting", "relay_address", conf.AgentRelayAddress(), "target_address", conf.AgentTargetAddress(), "pool_size", conf.AgentRelayNumConn())
	return transport.Serve(cmd.Context(), components...)
}
