package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"gitlab.com/tinyland/lab/netpulse/pkg/connectivity"
	"gitlab.com/tinyland/lab/netpulse/pkg/quality"
)

// Format selects the decoder used by LoadFromReader.
type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

// Load reads configuration from the standard config path.
// Search order:
//  1. $XDG_CONFIG_HOME/netpulse/config.toml (then config.yaml)
//  2. ~/.config/netpulse/config.toml (then config.yaml)
//
// If no file exists, returns DefaultConfig().
func Load() (*Config, error) {
	paths := configSearchPaths()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return LoadFromFile(p)
		}
	}
	cfg := DefaultConfig()
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path. Files ending
// in .yaml or .yml are decoded as YAML, everything else as TOML.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, formatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader reads configuration from an io.Reader. Keys absent from
// the input keep their defaults.
func LoadFromReader(r io.Reader, format Format) (*Config, error) {
	cfg := DefaultConfig()
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(cfg); err != nil && err != io.EOF {
			return nil, err
		}
	default:
		if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// DefaultConfig returns the default configuration with sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	cacheDir := filepath.Join(xdgCacheHome(home), "netpulse")

	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			CacheDir: cacheDir,
		},
		Probe: ProbeConfig{
			Command:        quality.DefaultCommand,
			Args:           append([]string(nil), quality.DefaultArgs...),
			Timeout:        Duration{quality.DefaultProbeTimeout},
			Interval:       Duration{quality.DefaultInterval},
			Jitter:         Duration{quality.DefaultJitter},
			Settle:         Duration{quality.DefaultSettle},
			ThroughputUnit: string(quality.UnitBytes),
		},
		Connectivity: ConnectivityConfig{
			PollInterval: Duration{connectivity.DefaultPollInterval},
			CheckTimeout: Duration{connectivity.DefaultCheckTimeout},
			CaptiveCheck: true,
		},
		Daemon: DaemonConfig{
			SocketPath: filepath.Join(cacheDir, "netpulse.sock"),
			PIDFile:    filepath.Join(cacheDir, "netpulse.pid"),
			StatusFile: filepath.Join(cacheDir, "status.json"),
		},
	}
}

// StatusMaxAge is how old the status file may get before prompt segments
// stop trusting it: two full probe intervals plus jitter.
func (c *Config) StatusMaxAge() time.Duration {
	return 2 * (c.Probe.Interval.Duration + c.Probe.Jitter.Duration)
}

// applyEnvOverrides checks environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NETPULSE_PROBE_COMMAND"); v != "" {
		cfg.Probe.Command = v
	}
	if v := os.Getenv("NETPULSE_LOG_LEVEL"); v != "" {
		cfg.General.LogLevel = v
	}
	if v := os.Getenv("NETPULSE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
}

func formatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// configSearchPaths returns the ordered list of config file paths to try.
func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	var dirs []string

	xdg := xdgConfigHome(home)
	dirs = append(dirs, filepath.Join(xdg, "netpulse"))

	// If XDG_CONFIG_HOME was explicitly set, also try the fallback default.
	defaultXDG := filepath.Join(home, ".config")
	if xdg != defaultXDG {
		dirs = append(dirs, filepath.Join(defaultXDG, "netpulse"))
	}

	var paths []string
	for _, dir := range dirs {
		paths = append(paths,
			filepath.Join(dir, "config.toml"),
			filepath.Join(dir, "config.yaml"),
		)
	}
	return paths
}

// xdgConfigHome returns XDG_CONFIG_HOME or ~/.config as fallback.
func xdgConfigHome(home string) string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".config")
}

// xdgCacheHome returns XDG_CACHE_HOME or ~/.cache as fallback.
func xdgCacheHome(home string) string {
	if v := os.Getenv("XDG_CACHE_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".cache")
}
