// Package platform generates and installs the per-user service definition
// that keeps the netpulse daemon running: a launchd agent on macOS and a
// systemd user unit on Linux.
package platform

import (
	"errors"
	"fmt"
	"runtime"
)

// Platform identifies the current OS platform.
type Platform string

const (
	// Darwin represents macOS.
	Darwin Platform = "darwin"
	// Linux represents Linux distributions.
	Linux Platform = "linux"
)

// ServiceName is used for the unit file name and the launchd label suffix.
const ServiceName = "netpulse"

// LaunchdLabel is the launchd job label.
const LaunchdLabel = "com.tinyland." + ServiceName

// ErrUnsupported is returned for platforms without a service manager
// integration.
var ErrUnsupported = errors.New("platform: no service manager integration")

// Current returns the platform for the running OS.
func Current() Platform {
	return Platform(runtime.GOOS)
}

// ServiceConfig holds daemon service configuration for launchd or systemd.
type ServiceConfig struct {
	BinaryPath string // absolute path to the netpulse binary
	ConfigPath string // config file passed with -config; empty to omit
	LogPath    string // stdout/stderr of the daemon
}

// Definition returns the service file content and where it belongs under
// home for platform p.
func Definition(p Platform, cfg ServiceConfig, home string) (content, path string, err error) {
	switch p {
	case Darwin:
		return GenerateLaunchdPlist(cfg), LaunchdPlistPath(home), nil
	case Linux:
		return GenerateSystemdUnit(cfg), SystemdUnitPath(home), nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnsupported, p)
	}
}
