package platform

import (
	"fmt"
	"path/filepath"
	"strings"
)

// daemonArgs is the argument list after the binary.
func daemonArgs(cfg ServiceConfig) []string {
	args := []string{"-daemon"}
	if cfg.ConfigPath != "" {
		args = append(args, "-config", cfg.ConfigPath)
	}
	return args
}

// GenerateSystemdUnit renders a systemd user service unit.
func GenerateSystemdUnit(cfg ServiceConfig) string {
	var b strings.Builder
	b.WriteString(`[Unit]
Description=netpulse network quality monitor
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
`)
	fmt.Fprintf(&b, "ExecStart=%s %s\n", cfg.BinaryPath, strings.Join(daemonArgs(cfg), " "))
	b.WriteString("Restart=on-failure\nRestartSec=5\n")
	if cfg.LogPath != "" {
		fmt.Fprintf(&b, "StandardOutput=append:%s\nStandardError=append:%s\n", cfg.LogPath, cfg.LogPath)
	}
	b.WriteString(`
[Install]
WantedBy=default.target
`)
	return b.String()
}

// SystemdUnitPath returns the user unit location under home.
func SystemdUnitPath(home string) string {
	return filepath.Join(home, ".config", "systemd", "user", ServiceName+".service")
}

// GenerateLaunchdPlist renders a launchd agent that starts the daemon at
// login and restarts it if it exits.
func GenerateLaunchdPlist(cfg ServiceConfig) string {
	var args strings.Builder
	for _, a := range append([]string{cfg.BinaryPath}, daemonArgs(cfg)...) {
		fmt.Fprintf(&args, "\t\t<string>%s</string>\n", xmlEscape(a))
	}

	var logs string
	if cfg.LogPath != "" {
		p := xmlEscape(cfg.LogPath)
		logs = fmt.Sprintf("\t<key>StandardOutPath</key>\n\t<string>%s</string>\n\t<key>StandardErrorPath</key>\n\t<string>%s</string>\n", p, p)
	}

	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>%s</string>
	<key>ProgramArguments</key>
	<array>
%s	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
%s</dict>
</plist>
`, LaunchdLabel, args.String(), logs)
}

// LaunchdPlistPath returns the agent plist location under home.
func LaunchdPlistPath(home string) string {
	return filepath.Join(home, "Library", "LaunchAgents", LaunchdLabel+".plist")
}

var xmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")

func xmlEscape(s string) string {
	return xmlReplacer.Replace(s)
}
