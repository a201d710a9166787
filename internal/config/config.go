package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config wraps a viper instance and provides typed accessors for every
// configuration key. Create one via New().
type Config struct {
	v *viper.Viper
}

// New initialises a Config by loading values from environment
// variables, the config file, and compiled defaults (in that priority
// order; CLI flags, bound later via BindFlags, take highest priority).
func New() (*Config, error) {
	v := viper.New()

	for _, o := range RelayOptions {
		v.SetDefault(o.Key, o.Default)
	}
	for _, o := range AgentOptions {
		v.SetDefault(o.Key, o.Default)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/relaytun/")

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !(errors.As(err, &notFoundErr) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables are prefixed with RELAYTUN_ and use
	// underscores in place of dots (e.g. RELAYTUN_RELAY_PUBLIC_HOST).
	v.SetEnvPrefix("RELAYTUN")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Config{v: v}, nil
}

// BindFlags registers CLI flags for the given option slice and binds
// them to the underlying viper keys so that flag values override file
// and environment sources.
func (c *Config) BindFlags(fs *pflag.FlagSet, options []Option) error {
	for _, o := range options {
		switch v := o.Default.(type) {
		case string:
			fs.String(o.Flag, v, o.Description)
		case int:
			fs.Int(o.Flag, v, o.Description)
		case bool:
			fs.Bool(o.Flag, v, o.Description)
		case []string:
			fs.StringSlice(o.Flag, v, o.Description)
		case time.Duration:
			fs.Duration(o.Flag, v, o.Description)
		default:
			return fmt.Errorf("unsupported flag type for key: %s", o.Key)
		}

		if err := c.v.BindPFlag(o.Key, fs.Lookup(o.Flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", o.Flag, err)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Relay-mode accessors
// ---------------------------------------------------------------------------

func (c *Config) RelayPublicAddress() string {
	return joinHostPort(c.v.GetString(keyRelayPublicHost), c.v.GetInt(keyRelayPublicPort))
}

func (c *Config) RelayRelayAddress() string {
	return joinHostPort(c.v.GetString(keyRelayRelayHost), c.v.GetInt(keyRelayRelayPort))
}

func (c *Config) RelayPublicTimeout() time.Duration { return c.v.GetDuration(keyRelayPublicTimeout) }
func (c *Config) RelayRelayTimeout() time.Duration  { return c.v.GetDuration(keyRelayRelayTimeout) }

func (c *Config) RelayPublicTLS() bool { return c.v.GetBool(keyRelayPublicTLS) }
func (c *Config) RelayRelayTLS() bool  { return c.v.GetBool(keyRelayRelayTLS) }

func (c *Config) RelayPublicPfx() string        { return c.v.GetString(keyRelayPublicPfx) }
func (c *Config) RelayPublicKey() string        { return c.v.GetString(keyRelayPublicKey) }
func (c *Config) RelayPublicCert() string       { return c.v.GetString(keyRelayPublicCert) }
func (c *Config) RelayPublicPassphrase() string { return c.v.GetString(keyRelayPublicPassphrase) }
func (c *Config) RelayRelayPfx() string         { return c.v.GetString(keyRelayRelayPfx) }
func (c *Config) RelayRelayKey() string         { return c.v.GetString(keyRelayRelayKey) }
func (c *Config) RelayRelayCert() string        { return c.v.GetString(keyRelayRelayCert) }
func (c *Config) RelayRelayPassphrase() string  { return c.v.GetString(keyRelayRelayPassphrase) }

func (c *Config) RelayPublicCertCN() string { return c.v.GetString(keyRelayPublicCertCN) }
func (c *Config) RelayRelayCertCN() string  { return c.v.GetString(keyRelayRelayCertCN) }

func (c *Config) RelayPublicCaCert() string { return c.v.GetString(keyRelayPublicCaCert) }
func (c *Config) RelayRelayCaCert() string  { return c.v.GetString(keyRelayRelayCaCert) }

func (c *Config) RelayPublicRequestCert() bool { return c.v.GetBool(keyRelayPublicRequestCert) }
func (c *Config) RelayRelayRequestCert() bool  { return c.v.GetBool(keyRelayRelayRequestCert) }

func (c *Config) RelaySecret() []byte { return []byte(c.v.GetString(keyRelaySecret)) }
func (c *Config) RelaySilent() bool   { return c.v.GetBool(keyRelaySilent) }

func (c *Config) RelayMetricsAddress() string { return c.v.GetString(keyRelayMetricsAddress) }

// ---------------------------------------------------------------------------
// Agent-mode accessors
// ---------------------------------------------------------------------------

func (c *Config) AgentTargetAddress() string {
	return joinHostPort(c.v.GetString(keyAgentTargetHost), c.v.GetInt(keyAgentTargetPort))
}

func (c *Config) AgentRelayAddress() string {
	return joinHostPort(c.v.GetString(keyAgentRelayHost), c.v.GetInt(keyAgentRelayPort))
}

func (c *Config) AgentTargetTLS() bool        { return c.v.GetBool(keyAgentTargetTLS) }
func (c *Config) AgentRelayTLS() bool         { return c.v.GetBool(keyAgentRelayTLS) }
func (c *Config) AgentTargetVerifyCert() bool { return c.v.GetBool(keyAgentTargetVerifyCert) }
func (c *Config) AgentRelayVerifyCert() bool  { return c.v.GetBool(keyAgentRelayVerifyCert) }
func (c *Config) AgentTargetCaCert() string   { return c.v.GetString(keyAgentTargetCaCert) }
func (c *Config) AgentRelayCaCert() string    { return c.v.GetString(keyAgentRelayCaCert) }

func (c *Config) AgentRelayClientKey() string  { return c.v.GetString(keyAgentRelayClientKey) }
func (c *Config) AgentRelayClientCert() string { return c.v.GetString(keyAgentRelayClientCert) }

func (c *Config) AgentSecret() []byte    { return []byte(c.v.GetString(keyAgentSecret)) }
func (c *Config) AgentRelayNumConn() int { return c.v.GetInt(keyAgentRelayNumConn) }

func (c *Config) AgentTargetTimeout() time.Duration { return c.v.GetDuration(keyAgentTargetTimeout) }
func (c *Config) AgentRelayTimeout() time.Duration  { return c.v.GetDuration(keyAgentRelayTimeout) }

func (c *Config) AgentSilent() bool { return c.v.GetBool(keyAgentSilent) }

func (c *Config) AgentMetricsAddress() string { return c.v.GetString(keyAgentMetricsAddress) }

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
