// Package config loads the tunable (non-protocol) settings shared by the
// manager, disk, and user binaries: RPC timeout, stripe-read retry budget,
// UDP buffer sizing, and the metrics port. The spec's mandatory positional
// arguments (ports, names, manager endpoint) are never sourced here -- only
// tuning constants are, following the precedence CLI flags > env > file >
// defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config holds tunables read from (in order of precedence) CLI flags bound
// by the caller, STRIPEFS_* environment variables, an optional YAML file,
// and the defaults below.
type Config struct {
	// RPCTimeout bounds every block/manager RPC round trip.
	RPCTimeout time.Duration `mapstructure:"rpc_timeout" yaml:"rpc_timeout"`

	// MaxStripeRetries bounds read-path retries on parity mismatch or
	// missing blocks before a file read is aborted.
	MaxStripeRetries int `mapstructure:"max_stripe_retries" yaml:"max_stripe_retries"`

	// UDPBufferSize is loaded and defaulted here only; internal/udprpc
	// reads datagrams into its own fixed 65535-byte buffer and does not
	// consult this value.
	UDPBufferSize int `mapstructure:"udp_buffer_size" yaml:"udp_buffer_size"`

	// MetricsPort is the HTTP port serving /metrics, 0 disables it.
	MetricsPort int `mapstructure:"metrics_port" yaml:"metrics_port"`

	// FaultInjectionPercent is a bit-flip probability (0-100) that is loaded
	// and defaulted here only; the user's read command and REPL verb take
	// `p` from their own argument or prompt (default 0) and do not read it.
	FaultInjectionPercent int `mapstructure:"fault_injection_percent" yaml:"fault_injection_percent"`

	// Logging configures the package-level logger every role initializes
	// from at startup.
	Logging Logging `mapstructure:"logging" yaml:"logging"`
}

// Logging holds the three logger.Config knobs sourced through Config,
// letting a deployment set log level/format/output the same way it sets
// any other tunable (flag > env > file > default).
type Logging struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" yaml:"level"`

	// Format is "text" (colored, for TTYs) or "json".
	Format string `mapstructure:"format" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

// Defaults returns the built-in tunable defaults, matching the reference
// implementation's constants (1s timeout, 5 retries).
func Defaults() Config {
	return Config{
		RPCTimeout:            1 * time.Second,
		MaxStripeRetries:      5,
		UDPBufferSize:         65535,
		MetricsPort:           0,
		FaultInjectionPercent: 0,
		Logging: Logging{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads tunables from an optional YAML file at path (ignored if empty
// or missing) and STRIPEFS_* environment variables, layered over Defaults().
func Load(path string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("STRIPEFS")
	v.AutomaticEnv()
	v.SetDefault("rpc_timeout", cfg.RPCTimeout)
	v.SetDefault("max_stripe_retries", cfg.MaxStripeRetries)
	v.SetDefault("udp_buffer_size", cfg.UDPBufferSize)
	v.SetDefault("metrics_port", cfg.MetricsPort)
	v.SetDefault("fault_injection_percent", cfg.FaultInjectionPercent)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("read config %q: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}
