// Package config provides unified configuration loading from a file,
// environment variables, and CLI flags using viper and pflag.
//
// Resolution order (highest wins):
//  1. CLI flags
//  2. Environment variables (prefix RELAYTUN_)
//  3. Config file (config.yaml in . or /etc/relaytun/)
//  4. Compiled defaults
package config

// Viper keys for relay-mode configuration (spec.md §6 "Relay").
const (
	keyRelayPublicHost    = "relay.public_host"
	keyRelayPublicPort    = "relay.public_port"
	keyRelayRelayHost     = "relay.relay_host"
	keyRelayRelayPort     = "relay.relay_port"
	keyRelayPublicTimeout = "relay.public_timeout"
	keyRelayRelayTimeout  = "relay.relay_timeout"

	keyRelayPublicTLS = "relay.public_tls"
	keyRelayRelayTLS  = "relay.relay_tls"

	keyRelayPublicPfx        = "relay.public_pfx"
	keyRelayPublicKey        = "relay.public_key"
	keyRelayPublicCert       = "relay.public_cert"
	keyRelayPublicPassphrase = "relay.public_passphrase"
	keyRelayRelayPfx         = "relay.relay_pfx"
	keyRelayRelayKey         = "relay.relay_key"
	keyRelayRelayCert        = "relay.relay_cert"
	keyRelayRelayPassphrase  = "relay.relay_passphrase"

	keyRelayPublicCertCN = "relay.public_cert_cn"
	keyRelayRelayCertCN  = "relay.relay_cert_cn"

	keyRelayPublicCaCert = "relay.public_ca_cert"
	keyRelayRelayCaCert  = "relay.relay_ca_cert"

	keyRelayPublicRequestCert = "relay.public_request_cert"
	keyRelayRelayRequestCert  = "relay.relay_request_cert"

	keyRelaySecret = "relay.secret"
	keyRelaySilent = "relay.silent"

	// keyRelayMetricsAddress is a supplemented option (not named in
	// spec.md §6): the bind address of the optional /metrics endpoint.
	// Empty disables it.
	keyRelayMetricsAddress = "relay.metrics_address"
)

// Viper keys for agent-mode configuration (spec.md §6 "Agent").
const (
	keyAgentTargetHost = "agent.target_host"
	keyAgentTargetPort = "agent.target_port"
	keyAgentRelayHost  = "agent.relay_host"
	keyAgentRelayPort  = "agent.relay_port"

	keyAgentTargetTLS        = "agent.target_tls"
	keyAgentRelayTLS         = "agent.relay_tls"
	keyAgentTargetVerifyCert = "agent.target_verify_cert"
	keyAgentRelayVerifyCert  = "agent.relay_verify_cert"
	keyAgentTargetCaCert     = "agent.target_ca_cert"
	keyAgentRelayCaCert      = "agent.relay_ca_cert"

	keyAgentRelayClientKey  = "agent.relay_client_key"
	keyAgentRelayClientCert = "agent.relay_client_cert"

	keyAgentSecret       = "agent.secret"
	keyAgentRelayNumConn = "agent.relay_num_conn"

	keyAgentTargetTimeout = "agent.target_timeout"
	keyAgentRelayTimeout  = "agent.relay_timeout"

	keyAgentSilent = "agent.silent"

	// keyAgentMetricsAddress mirrors keyRelayMetricsAddress for the
	// Agent process.
	keyAgentMetricsAddress = "agent.metrics_address"
)
