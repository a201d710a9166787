package config

import (
	"os"
	"testing"

	"github.com/spf13/pflag"
)

func TestNew_DefaultsApplyWithoutAnySource(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := c.RelayPublicAddress(); got != "0.0.0.0:8080" {
		t.Fatalf("RelayPublicAddress = %q, want %q", got, "0.0.0.0:8080")
	}
	if got := c.AgentRelayNumConn(); got != 1 {
		t.Fatalf("AgentRelayNumConn = %d, want 1", got)
	}
	if c.RelaySilent() {
		t.Fatal("RelaySilent defaults to false")
	}
}

func TestBindFlags_FlagOverridesDefault(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fs := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	if err := c.BindFlags(fs, RelayOptions); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	if err := fs.Parse([]string{"--public-port", "9443", "--secret", "s3cret"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := c.RelayPublicAddress(); got != "0.0.0.0:9443" {
		t.Fatalf("RelayPublicAddress = %q, want %q", got, "0.0.0.0:9443")
	}
	if got := string(c.RelaySecret()); got != "s3cret" {
		t.Fatalf("RelaySecret = %q, want %q", got, "s3cret")
	}
}

func TestNew_EnvironmentOverridesDefault(t *testing.T) {
	os.Setenv("RELAYTUN_AGENT_TARGET_HOST", "10.0.0.5")
	defer os.Unsetenv("RELAYTUN_AGENT_TARGET_HOST")

	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := c.AgentTargetAddress(); got != "10.0.0.5:80" {
		t.Fatalf("AgentTargetAddress = %q, want %q", got, "10.0.0.5:80")
	}
}

func TestToFlag_StripsModePrefix(t *testing.T) {
	cases := map[string]string{
		"relay.public_host":    "public-host",
		"relay.relay_host":     "relay-host",
		"agent.relay_host":     "relay-host",
		"agent.target_timeout": "target-timeout",
	}
	for key, want := range cases {
		if got := toFlag(key); got != want {
			t.Errorf("toFlag(%q) = %q, want %q", key, got, want)
		}
	}
}
