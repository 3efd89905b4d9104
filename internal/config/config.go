package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultRelayURL  = "http://localhost:8080"
	DefaultTransport = "http"
	DefaultSTUN      = "stun:stun.l.google.com:19302"

	DefaultGatherTimeout    = 3 * time.Second
	DefaultRoundTripTimeout = 10 * time.Second
	DefaultWaitTimeout      = 30 * time.Second
	DefaultProbeTimeout     = 1 * time.Second
	DefaultInitTimeout      = 90 * time.Second

	DefaultMaxRetransmits = 30

	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = 2 * time.Second

	DefaultRelayListen  = ":8080"
	DefaultRoomTTL      = 10 * time.Minute
	DefaultRelayMaxWait = 30 * time.Second
	DefaultRelayMode    = "release"
)

// ErrForceRelayWithoutTURN is returned when relay-only ICE is requested
// but there is no TURN server to relay through.
var ErrForceRelayWithoutTURN = errors.New("cannot force relay mode without TURN server configured")

// Config holds application configuration
type Config struct {
	// RelayURL is the signaling relay base address (http(s) or ws(s)).
	RelayURL string `mapstructure:"relay_url"`

	// Transport selects the signaling transport: "http" (long-poll) or "ws".
	Transport string `mapstructure:"transport"`

	// ICE servers for WebRTC
	STUNServer string `mapstructure:"stun_server"`
	TURNServer string `mapstructure:"turn_server"`
	TURNUser   string `mapstructure:"turn_username"`
	TURNPass   string `mapstructure:"turn_password"`
	ForceRelay bool   `mapstructure:"force_relay"`
	Loopback   bool   `mapstructure:"loopback"`

	Timeouts       Timeouts    `mapstructure:"timeouts"`
	MaxRetransmits uint16      `mapstructure:"max_retransmits"`
	Retry          RetryPolicy `mapstructure:"retry"`

	Relay RelayServer `mapstructure:"relay"`
}

// Timeouts bound every wait the engine performs.
type Timeouts struct {
	Gather    time.Duration `mapstructure:"gather"`
	RoundTrip time.Duration `mapstructure:"round_trip"`
	Wait      time.Duration `mapstructure:"wait"`
	Probe     time.Duration `mapstructure:"probe"`
	Init      time.Duration `mapstructure:"init"`
}

// RetryPolicy is applied by callers that recreate a session after a
// retryable failure. The engine itself never retries.
type RetryPolicy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

// RelayServer configures `warplink relay`.
type RelayServer struct {
	Listen  string        `mapstructure:"listen"`
	RoomTTL time.Duration `mapstructure:"room_ttl"`
	MaxWait time.Duration `mapstructure:"max_wait"`
	Mode    string        `mapstructure:"mode"`
}

// Session is the per-session engine configuration.
type Session struct {
	RelayURL  string
	Transport string

	STUNServers     []string
	TURNServer      string
	TURNUser        string
	TURNPass        string
	ForceRelay      bool
	IncludeLoopback bool

	GatherTimeout    time.Duration
	RoundTripTimeout time.Duration
	WaitTimeout      time.Duration
	ProbeTimeout     time.Duration
	InitTimeout      time.Duration

	MaxRetransmits uint16
	Retry          RetryPolicy
}

// Options for loading config with CLI flag overrides
type Options struct {
	// ConfigFile is an explicit YAML file. When empty the default
	// locations are searched and a missing file is not an error.
	ConfigFile string

	// Flags are bound over env and file values when set on the command line.
	Flags *pflag.FlagSet
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"relay":          "relay_url",
	"transport":      "transport",
	"stun":           "stun_server",
	"turn":           "turn_server",
	"turn-user":      "turn_username",
	"turn-pass":      "turn_password",
	"force-relay":    "force_relay",
	"loopback":       "loopback",
	"gather-timeout": "timeouts.gather",
	"wait-timeout":   "timeouts.wait",
	"init-timeout":   "timeouts.init",
	"retries":        "retry.max_attempts",
	"listen":         "relay.listen",
	"room-ttl":       "relay.room_ttl",
	"mode":           "relay.mode",
}

// legacyEnv keeps the environment variable names older releases read.
var legacyEnv = map[string]string{
	"stun_server":   "STUN_SERVER",
	"turn_server":   "TURN_SERVER",
	"turn_username": "TURN_USERNAME",
	"turn_password": "TURN_PASSWORD",
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (WARPLINK_*, plus legacy names)
// 3. Config file
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("WARPLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "WARPLINK_"+strings.ToUpper(key), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if flag := opts.Flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := readConfigFile(v, opts.ConfigFile); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	// DOMAIN names a relay host the way older releases did.
	if domain := os.Getenv("DOMAIN"); domain != "" && cfg.RelayURL == DefaultRelayURL {
		cfg.RelayURL = "https://" + domain
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("module", "config").
		Str("relay", cfg.RelayURL).
		Str("transport", cfg.Transport).
		Str("file", v.ConfigFileUsed()).
		Msg("config loaded")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("relay_url", DefaultRelayURL)
	v.SetDefault("transport", DefaultTransport)
	v.SetDefault("stun_server", DefaultSTUN)
	v.SetDefault("turn_server", "")
	v.SetDefault("turn_username", "")
	v.SetDefault("turn_password", "")
	v.SetDefault("force_relay", false)
	v.SetDefault("loopback", false)

	v.SetDefault("timeouts.gather", DefaultGatherTimeout)
	v.SetDefault("timeouts.round_trip", DefaultRoundTripTimeout)
	v.SetDefault("timeouts.wait", DefaultWaitTimeout)
	v.SetDefault("timeouts.probe", DefaultProbeTimeout)
	v.SetDefault("timeouts.init", DefaultInitTimeout)
	v.SetDefault("max_retransmits", DefaultMaxRetransmits)

	v.SetDefault("retry.max_attempts", DefaultRetryAttempts)
	v.SetDefault("retry.backoff", DefaultRetryBackoff)

	v.SetDefault("relay.listen", DefaultRelayListen)
	v.SetDefault("relay.room_ttl", DefaultRoomTTL)
	v.SetDefault("relay.max_wait", DefaultRelayMaxWait)
	v.SetDefault("relay.mode", DefaultRelayMode)
}

func readConfigFile(v *viper.Viper, explicit string) error {
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	v.SetConfigName("config")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "warplink"))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("invalid relay URL %q: scheme must be http, https, ws or wss", c.RelayURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid relay URL %q: missing host", c.RelayURL)
	}

	switch c.Transport {
	case "http", "ws":
	default:
		return fmt.Errorf("unknown signaling transport %q (want http or ws)", c.Transport)
	}

	if c.ForceRelay && c.TURNServer == "" {
		return ErrForceRelayWithoutTURN
	}

	t := c.Timeouts
	for name, d := range map[string]time.Duration{
		"gather": t.Gather, "round_trip": t.RoundTrip, "wait": t.Wait, "probe": t.Probe, "init": t.Init,
	} {
		if d <= 0 {
			return fmt.Errorf("timeouts.%s must be positive, got %s", name, d)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	return nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	var servers []string
	for _, s := range strings.Split(c.STUNServer, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return servers
}

// Session returns the engine configuration for one session.
func (c *Config) Session() Session {
	return Session{
		RelayURL:         c.RelayURL,
		Transport:        c.Transport,
		STUNServers:      c.GetSTUNServers(),
		TURNServer:       c.TURNServer,
		TURNUser:         c.TURNUser,
		TURNPass:         c.TURNPass,
		ForceRelay:       c.ForceRelay,
		IncludeLoopback:  c.Loopback,
		GatherTimeout:    c.Timeouts.Gather,
		RoundTripTimeout: c.Timeouts.RoundTrip,
		WaitTimeout:      c.Timeouts.Wait,
		ProbeTimeout:     c.Timeouts.Probe,
		InitTimeout:      c.Timeouts.Init,
		MaxRetransmits:   c.MaxRetransmits,
		Retry:            c.Retry,
	}
}

// DefaultSession returns the engine defaults without reading any source.
func DefaultSession() Session {
	return Session{
		RelayURL:         DefaultRelayURL,
		Transport:        DefaultTransport,
		STUNServers:      []string{DefaultSTUN},
		GatherTimeout:    DefaultGatherTimeout,
		RoundTripTimeout: DefaultRoundTripTimeout,
		WaitTimeout:      DefaultWaitTimeout,
		ProbeTimeout:     DefaultProbeTimeout,
		InitTimeout:      DefaultInitTimeout,
		MaxRetransmits:   DefaultMaxRetransmits,
		Retry:            RetryPolicy{MaxAttempts: DefaultRetryAttempts, Backoff: DefaultRetryBackoff},
	}
}
