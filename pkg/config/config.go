package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/multierr"

	"gitlab.com/tinyland/lab/netpulse/pkg/quality"
)

// Config is the top-level netpulse configuration.
type Config struct {
	General      GeneralConfig      `toml:"general" yaml:"general"`
	Probe        ProbeConfig        `toml:"probe" yaml:"probe"`
	Connectivity ConnectivityConfig `toml:"connectivity" yaml:"connectivity"`
	Daemon       DaemonConfig       `toml:"daemon" yaml:"daemon"`
	HTTP         HTTPConfig         `toml:"http" yaml:"http"`
}

// GeneralConfig holds logging and filesystem settings.
type GeneralConfig struct {
	LogLevel string `toml:"log_level" yaml:"log_level"`
	LogFile  string `toml:"log_file" yaml:"log_file"`
	CacheDir string `toml:"cache_dir" yaml:"cache_dir"`
}

// ProbeConfig controls the measurement command and its cadence.
type ProbeConfig struct {
	Command        string   `toml:"command" yaml:"command"`
	Args           []string `toml:"args" yaml:"args"`
	Timeout        Duration `toml:"timeout" yaml:"timeout"`
	Interval       Duration `toml:"interval" yaml:"interval"`
	Jitter         Duration `toml:"jitter" yaml:"jitter"`
	Settle         Duration `toml:"settle" yaml:"settle"`
	ThroughputUnit string   `toml:"throughput_unit" yaml:"throughput_unit"`
}

// ConnectivityConfig controls the path classifier.
type ConnectivityConfig struct {
	PollInterval Duration `toml:"poll_interval" yaml:"poll_interval"`
	CheckTimeout Duration `toml:"check_timeout" yaml:"check_timeout"`
	CaptiveCheck bool     `toml:"captive_check" yaml:"captive_check"`
}

// DaemonConfig holds the daemon's runtime file locations.
type DaemonConfig struct {
	SocketPath string `toml:"socket_path" yaml:"socket_path"`
	PIDFile    string `toml:"pid_file" yaml:"pid_file"`
	StatusFile string `toml:"status_file" yaml:"status_file"`
}

// HTTPConfig configures the optional HTTP API. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
}

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs error

	if !slices.Contains(logLevels, strings.ToLower(c.General.LogLevel)) {
		errs = multierr.Append(errs, fmt.Errorf("general.log_level: unknown level %q", c.General.LogLevel))
	}
	if strings.TrimSpace(c.Probe.Command) == "" {
		errs = multierr.Append(errs, errors.New("probe.command: must not be empty"))
	}
	if c.Probe.Timeout.Duration <= 0 {
		errs = multierr.Append(errs, errors.New("probe.timeout: must be positive"))
	}
	if c.Probe.Interval.Duration <= 0 {
		errs = multierr.Append(errs, errors.New("probe.interval: must be positive"))
	}
	if !quality.ThroughputUnit(c.Probe.ThroughputUnit).Valid() {
		errs = multierr.Append(errs, fmt.Errorf("probe.throughput_unit: want %q or %q, got %q",
			quality.UnitBytes, quality.UnitBits, c.Probe.ThroughputUnit))
	}
	if c.Connectivity.PollInterval.Duration <= 0 {
		errs = multierr.Append(errs, errors.New("connectivity.poll_interval: must be positive"))
	}
	if c.Connectivity.CheckTimeout.Duration <= 0 {
		errs = multierr.Append(errs, errors.New("connectivity.check_timeout: must be positive"))
	}
	if c.Daemon.SocketPath == "" {
		errs = multierr.Append(errs, errors.New("daemon.socket_path: must not be empty"))
	}
	if c.Daemon.StatusFile == "" {
		errs = multierr.Append(errs, errors.New("daemon.status_file: must not be empty"))
	}

	return errs
}

// MonitorConfig converts the probe settings into quality.Config.
func (c *Config) MonitorConfig() quality.Config {
	return quality.Config{
		Coalescer: quality.CoalescerConfig{
			Interval: c.Probe.Interval.Duration,
			Jitter:   c.Probe.Jitter.Duration,
			Settle:   c.Probe.Settle.Duration,
		},
		ProbeTimeout: c.Probe.Timeout.Duration,
	}
}

// CommandConfig converts the probe settings into quality.CommandConfig.
func (c *Config) CommandConfig() quality.CommandConfig {
	return quality.CommandConfig{
		Command: c.Probe.Command,
		Args:    c.Probe.Args,
		Unit:    quality.ThroughputUnit(c.Probe.ThroughputUnit),
	}
}
