package platform

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Runner executes a service manager command. It is swapped in tests.
type Runner func(name string, args ...string) error

func execRunner(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %w: %s", name, args, err, out)
	}
	return nil
}

// Installer writes the service definition and (un)registers it with the
// platform's service manager.
type Installer struct {
	Platform Platform
	Home     string
	Run      Runner
}

// NewInstaller returns an installer for the running OS and user.
func NewInstaller() (*Installer, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return &Installer{Platform: Current(), Home: home, Run: execRunner}, nil
}

// Install writes the definition and starts the service. It returns the
// path written.
func (i *Installer) Install(cfg ServiceConfig) (string, error) {
	content, path, err := Definition(i.Platform, cfg, i.Home)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create service directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write service file: %w", err)
	}

	switch i.Platform {
	case Darwin:
		// Unload first if already loaded.
		_ = i.Run("launchctl", "unload", path)
		if err := i.Run("launchctl", "load", path); err != nil {
			return path, fmt.Errorf("load launchd agent: %w", err)
		}
	case Linux:
		if err := i.Run("systemctl", "--user", "daemon-reload"); err != nil {
			return path, fmt.Errorf("reload systemd: %w", err)
		}
		if err := i.Run("systemctl", "--user", "enable", "--now", ServiceName+".service"); err != nil {
			return path, fmt.Errorf("enable service: %w", err)
		}
	}
	return path, nil
}

// Uninstall stops the service and removes its definition. Stop errors are
// ignored so a half-installed service can still be cleaned up.
func (i *Installer) Uninstall() error {
	_, path, err := Definition(i.Platform, ServiceConfig{}, i.Home)
	if err != nil {
		return err
	}

	switch i.Platform {
	case Darwin:
		_ = i.Run("launchctl", "unload", path)
	case Linux:
		_ = i.Run("systemctl", "--user", "disable", "--now", ServiceName+".service")
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove service file: %w", err)
	}
	if i.Platform == Linux {
		_ = i.Run("systemctl", "--user", "daemon-reload")
	}
	return nil
}
