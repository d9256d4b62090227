// Package daemon runs the long-lived netpulse process: it owns the PID file,
// serves the IPC socket, mirrors snapshots into the status file and keeps
// the monitor and its collaborators running until shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"gitlab.com/tinyland/lab/netpulse/pkg/quality"
)

// Monitor is the part of *quality.Monitor the daemon needs.
type Monitor interface {
	Run(ctx context.Context, source <-chan quality.ConnectivityState) error
	Current() quality.Snapshot
	Refresh()
	Stats() quality.Stats
	Subscribe() *quality.Subscription
	Subscribers() int
}

// Service is an extra component run alongside the monitor, such as the
// connectivity watcher or the HTTP API. It must return when ctx is done.
type Service func(ctx context.Context) error

// Config holds the daemon's file locations.
type Config struct {
	SocketPath string
	PIDFile    string
	StatusFile string
	Version    string
}

// Daemon ties the monitor to its runtime surfaces.
type Daemon struct {
	cfg     Config
	monitor Monitor
	logger  *slog.Logger
	started time.Time

	quit     chan struct{}
	quitOnce sync.Once
}

// New creates a daemon around monitor.
func New(cfg Config, monitor Monitor, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		cfg:     cfg,
		monitor: monitor,
		logger:  logger,
		quit:    make(chan struct{}),
	}
}

// Run acquires the PID file, starts the IPC server and runs the monitor,
// the status writer and every service until ctx is done, QUIT is received,
// or one of them fails. Cleanup errors are combined with the run error.
func (d *Daemon) Run(ctx context.Context, source <-chan quality.ConnectivityState, services ...Service) (err error) {
	d.started = time.Now()

	if d.cfg.PIDFile != "" {
		if err := AcquirePID(d.cfg.PIDFile); err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, ReleasePID(d.cfg.PIDFile)) }()
	}

	ipc := NewIPCServer(d.cfg.SocketPath, d)
	if err := ipc.Start(); err != nil {
		return err
	}
	defer ipc.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.monitor.Run(gctx, source)
	})
	if d.cfg.StatusFile != "" {
		writer := NewStatusWriter(d.cfg.StatusFile, d.logger)
		sub := d.monitor.Subscribe()
		g.Go(func() error {
			return writer.Run(gctx, sub)
		})
	}
	for _, svc := range services {
		g.Go(func() error {
			return svc(gctx)
		})
	}
	g.Go(func() error {
		select {
		case <-d.quit:
			d.logger.Info("quit requested over IPC")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	d.logger.Info("daemon started", "pid", os.Getpid(), "socket", d.cfg.SocketPath)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	d.logger.Info("daemon stopped", "uptime", time.Since(d.started).Round(time.Second))
	return err
}

// Quit asks Run to return. It is safe to call more than once.
func (d *Daemon) Quit() {
	d.quitOnce.Do(func() { close(d.quit) })
}

// Health builds the HEALTH response.
func (d *Daemon) Health() HealthStatus {
	snap := d.monitor.Current()
	stats := d.monitor.Stats()
	return HealthStatus{
		PID:         os.Getpid(),
		Version:     d.cfg.Version,
		StartedAt:   d.started,
		Uptime:      time.Since(d.started).Round(time.Second).String(),
		State:       snap.State,
		Display:     snap.Display,
		Probing:     snap.Probing,
		LastProbeAt: snap.LastProbeAt,
		LastError:   snap.LastError,
		Triggers:    stats.Triggers,
		Coalesced:   stats.Coalesced,
		Runs:        stats.Runs,
		Failures:    stats.Failures,
		Stale:       stats.Stale,
		Subscribers: d.monitor.Subscribers(),
	}
}

// HandleCommand implements IPCHandler.
func (d *Daemon) HandleCommand(cmd string, args []string) (string, error) {
	switch strings.ToUpper(cmd) {
	case CmdStatus:
		return toJSON(d.monitor.Current())
	case CmdRefresh:
		d.monitor.Refresh()
		return `{"ok":true}`, nil
	case CmdHealth:
		return toJSON(d.Health())
	case CmdQuit:
		d.Quit()
		return `{"ok":true}`, nil
	default:
		return "", fmt.Errorf("unknown command %q", cmd)
	}
}
