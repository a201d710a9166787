package config

import (
	"strings"
	"time"
)

// Option describes a single configuration entry: its viper key, the
// corresponding CLI flag name, the compiled default, and a
// human-readable description shown in --help output.
type Option struct {
	Key         string
	Flag        string
	Default     any
	Description string
}

// RelayOptions defines the configuration entries available in relay
// mode. Each entry is registered as a viper default and a CLI flag.
var RelayOptions = []Option{
	{Key: keyRelayPublicHost, Flag: toFlag(keyRelayPublicHost), Default: "0.0.0.0", Description: "Public listener bind host"},
	{Key: keyRelayPublicPort, Flag: toFlag(keyRelayPublicPort), Default: 8080, Description: "Public listener bind port"},
	{Key: keyRelayRelayHost, Flag: toFlag(keyRelayRelayHost), Default: "0.0.0.0", Description: "Agent-facing listener bind host"},
	{Key: keyRelayRelayPort, Flag: toFlag(keyRelayRelayPort), Default: 8081, Description: "Agent-facing listener bind port"},

	{Key: keyRelayPublicTimeout, Flag: toFlag(keyRelayPublicTimeout), Default: time.Duration(0), Description: "Public-side idle timeout, 0 disables"},
	{Key: keyRelayRelayTimeout, Flag: toFlag(keyRelayRelayTimeout), Default: time.Duration(0), Description: "Agent-side idle timeout, 0 disables"},

	{Key: keyRelayPublicTLS, Flag: toFlag(keyRelayPublicTLS), Default: false, Description: "Terminate TLS on the public listener"},
	{Key: keyRelayRelayTLS, Flag: toFlag(keyRelayRelayTLS), Default: false, Description: "Terminate TLS on the agent-facing listener"},

	{Key: keyRelayPublicPfx, Flag: toFlag(keyRelayPublicPfx), Default: "", Description: "Public listener PKCS#12 archive path"},
	{Key: keyRelayPublicKey, Flag: toFlag(keyRelayPublicKey), Default: "", Description: "Public listener private key path"},
	{Key: keyRelayPublicCert, Flag: toFlag(keyRelayPublicCert), Default: "", Description: "Public listener certificate path"},
	{Key: keyRelayPublicPassphrase, Flag: toFlag(keyRelayPublicPassphrase), Default: "", Description: "Passphrase for the public listener's PFX archive"},
	{Key: keyRelayRelayPfx, Flag: toFlag(keyRelayRelayPfx), Default: "", Description: "Agent-facing listener PKCS#12 archive path"},
	{Key: keyRelayRelayKey, Flag: toFlag(keyRelayRelayKey), Default: "", Description: "Agent-facing listener private key path"},
	{Key: keyRelayRelayCert, Flag: toFlag(keyRelayRelayCert), Default: "", Description: "Agent-facing listener certificate path"},
	{Key: keyRelayRelayPassphrase, Flag: toFlag(keyRelayRelayPassphrase), Default: "", Description: "Passphrase for the agent-facing listener's PFX archive"},

	{Key: keyRelayPublicCertCN, Flag: toFlag(keyRelayPublicCertCN), Default: "relaytun", Description: "Common name used only when autogenerating the public listener's certificate"},
	{Key: keyRelayRelayCertCN, Flag: toFlag(keyRelayRelayCertCN), Default: "relaytun", Description: "Common name used only when autogenerating the agent-facing listener's certificate"},

	{Key: keyRelayPublicCaCert, Flag: toFlag(keyRelayPublicCaCert), Default: "", Description: "Trust anchor for verifying public-side peer certificates"},
	{Key: keyRelayRelayCaCert, Flag: toFlag(keyRelayRelayCaCert), Default: "", Description: "Trust anchor for verifying agent peer certificates"},

	{Key: keyRelayPublicRequestCert, Flag: toFlag(keyRelayPublicRequestCert), Default: false, Description: "Require and verify a client certificate on the public listener"},
	{Key: keyRelayRelayRequestCert, Flag: toFlag(keyRelayRelayRequestCert), Default: false, Description: "Require and verify a client certificate on the agent-facing listener"},

	{Key: keyRelaySecret, Flag: toFlag(keyRelaySecret), Default: "", Description: "Shared secret required as the first bytes of every agent connection"},
	{Key: keyRelaySilent, Flag: toFlag(keyRelaySilent), Default: false, Description: "Suppress informational logs"},
	{Key: keyRelayMetricsAddress, Flag: toFlag(keyRelayMetricsAddress), Default: "", Description: "Bind address for the /metrics endpoint, empty disables it"},
}

// AgentOptions defines the configuration entries available in agent
// mode.
var AgentOptions = []Option{
	{Key: keyAgentTargetHost, Flag: toFlag(keyAgentTargetHost), Default: "127.0.0.1", Description: "Target host to dial once a tunnel pairs"},
	{Key: keyAgentTargetPort, Flag: toFlag(keyAgentTargetPort), Default: 80, Description: "Target port to dial once a tunnel pairs"},
	{Key: keyAgentRelayHost, Flag: toFlag(keyAgentRelayHost), Default: "127.0.0.1", Description: "Relay's agent-facing host to dial"},
	{Key: keyAgentRelayPort, Flag: toFlag(keyAgentRelayPort), Default: 8081, Description: "Relay's agent-facing port to dial"},

	{Key: keyAgentTargetTLS, Flag: toFlag(keyAgentTargetTLS), Default: false, Description: "Dial the target over TLS"},
	{Key: keyAgentRelayTLS, Flag: toFlag(keyAgentRelayTLS), Default: false, Description: "Dial the relay over TLS"},
	{Key: keyAgentTargetVerifyCert, Flag: toFlag(keyAgentTargetVerifyCert), Default: true, Description: "Verify the target's certificate"},
	{Key: keyAgentRelayVerifyCert, Flag: toFlag(keyAgentRelayVerifyCert), Default: true, Description: "Verify the relay's certificate"},
	{Key: keyAgentTargetCaCert, Flag: toFlag(keyAgentTargetCaCert), Default: "", Description: "Trust anchor for the target's certificate"},
	{Key: keyAgentRelayCaCert, Flag: toFlag(keyAgentRelayCaCert), Default: "", Description: "Trust anchor for the relay's certificate"},

	{Key: keyAgentRelayClientKey, Flag: toFlag(keyAgentRelayClientKey), Default: "", Description: "Client private key presented to the relay"},
	{Key: keyAgentRelayClientCert, Flag: toFlag(keyAgentRelayClientCert), Default: "", Description: "Client certificate presented to the relay"},

	{Key: keyAgentSecret, Flag: toFlag(keyAgentSecret), Default: "", Description: "Shared secret written as the first bytes of every relay connection"},
	{Key: keyAgentRelayNumConn, Flag: toFlag(keyAgentRelayNumConn), Default: 1, Description: "Warm pool size: number of idle relay connections to keep open"},

	{Key: keyAgentTargetTimeout, Flag: toFlag(keyAgentTargetTimeout), Default: time.Duration(0), Description: "Target-side idle timeout, 0 disables"},
	{Key: keyAgentRelayTimeout, Flag: toFlag(keyAgentRelayTimeout), Default: time.Duration(0), Description: "Relay-side idle timeout, 0 disables"},

	{Key: keyAgentSilent, Flag: toFlag(keyAgentSilent), Default: false, Description: "Suppress informational logs"},
	{Key: keyAgentMetricsAddress, Flag: toFlag(keyAgentMetricsAddress), Default: "", Description: "Bind address for the /metrics endpoint, empty disables it"},
}

// toFlag converts a viper key like "relay.public_cert_cn" into a CLI
// flag like "public-cert-cn" by lower-casing, replacing dots and
// underscores with hyphens, and stripping the "relay-" or "agent-"
// top-level prefix.
func toFlag(key string) string {
	flag := strings.ToLower(key)
	flag = strings.ReplaceAll(flag, ".", "-")
	flag = strings.ReplaceAll(flag, "_", "-")
	flag = strings.TrimPrefix(flag, "relay-")
	flag = strings.TrimPrefix(flag, "agent-")
	return flag
}
