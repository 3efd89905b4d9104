package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// isolate keeps the developer's own config file and env out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, name := range []string{"DOMAIN", "STUN_SERVER", "TURN_SERVER", "TURN_USERNAME", "TURN_PASSWORD"} {
		t.Setenv(name, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RelayURL != DefaultRelayURL {
		t.Errorf("RelayURL = %q, want %q", cfg.RelayURL, DefaultRelayURL)
	}
	if cfg.Timeouts.Probe != DefaultProbeTimeout {
		t.Errorf("Timeouts.Probe = %s, want %s", cfg.Timeouts.Probe, DefaultProbeTimeout)
	}
	if cfg.MaxRetransmits != DefaultMaxRetransmits {
		t.Errorf("MaxRetransmits = %d, want %d", cfg.MaxRetransmits, DefaultMaxRetransmits)
	}
	if got := cfg.Session(); got.RelayURL != DefaultRelayURL || len(got.STUNServers) != 1 {
		t.Errorf("Session() = %+v", got)
	}
}

func TestLoadPriority(t *testing.T) {
	isolate(t)

	file := filepath.Join(t.TempDir(), "warplink.yaml")
	yaml := []byte(`
relay_url: http://file.example:9000
transport: ws
timeouts:
  gather: 7s
retry:
  max_attempts: 5
`)
	if err := os.WriteFile(file, yaml, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("WARPLINK_TRANSPORT", "http")
	t.Setenv("STUN_SERVER", "stun:a.example:3478, stun:b.example:3478")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("relay", "", "")
	flags.Duration("gather-timeout", 0, "")
	if err := flags.Parse([]string{"--relay", "https://flag.example"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(Options{ConfigFile: file, Flags: flags})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RelayURL != "https://flag.example" {
		t.Errorf("RelayURL = %q, flag should win", cfg.RelayURL)
	}
	if cfg.Transport != "http" {
		t.Errorf("Transport = %q, env should beat file", cfg.Transport)
	}
	if cfg.Timeouts.Gather != 7*time.Second {
		t.Errorf("Timeouts.Gather = %s, unset flag should fall through to file", cfg.Timeouts.Gather)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	if got := cfg.GetSTUNServers(); len(got) != 2 || got[1] != "stun:b.example:3478" {
		t.Errorf("GetSTUNServers() = %v", got)
	}
}

func TestLoadLegacyDomain(t *testing.T) {
	isolate(t)
	t.Setenv("DOMAIN", "relay.example.org")

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RelayURL != "https://relay.example.org" {
		t.Errorf("RelayURL = %q", cfg.RelayURL)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	if _, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Fatal("Load() with missing explicit file succeeded")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			RelayURL:  "http://localhost:8080",
			Transport: "http",
			Timeouts:  Timeouts{Gather: time.Second, RoundTrip: time.Second, Wait: time.Second, Probe: time.Second, Init: time.Second},
			Retry:     RetryPolicy{MaxAttempts: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "ws relay", mutate: func(c *Config) { c.RelayURL = "wss://relay.example" }},
		{name: "bad scheme", mutate: func(c *Config) { c.RelayURL = "ftp://relay.example" }, wantErr: true},
		{name: "no host", mutate: func(c *Config) { c.RelayURL = "http://" }, wantErr: true},
		{name: "bad transport", mutate: func(c *Config) { c.Transport = "carrier-pigeon" }, wantErr: true},
		{name: "zero gather", mutate: func(c *Config) { c.Timeouts.Gather = 0 }, wantErr: true},
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	cfg := valid()
	cfg.ForceRelay = true
	if err := cfg.Validate(); !errors.Is(err, ErrForceRelayWithoutTURN) {
		t.Errorf("Validate() error = %v, want ErrForceRelayWithoutTURN", err)
	}
}
