// netpulse is a network-quality monitor.
//
// It watches the connectivity of the active network path, runs a speed
// probe whenever the path changes (and periodically in between), and
// surfaces the result as a compact status line through a daemon, an
// interactive TUI, or a Starship prompt segment.
//
// Usage:
//
//	netpulse [flags]
//
// Flags:
//
//	-config string    Path to configuration file (default: ~/.config/netpulse/config.toml)
//	-daemon           Run the background monitor daemon
//	-tui              Launch the interactive Bubbletea TUI
//	-starship         Output one-line Starship format from the status file
//	-starship-age     Append the probe age to the Starship segment
//	-refresh          Ask a running daemon to probe now
//	-status           Print the current status (daemon, then status file)
//	-once             Run a single probe and print the result
//	-install-service  Install and start the daemon as a launchd/systemd user service
//	-uninstall-service Stop and remove the daemon user service
//	-verbose          Enable verbose logging
//	-version          Print version and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/term"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"golang.org/x/sync/errgroup"

	"gitlab.com/tinyland/lab/netpulse/pkg/config"
	"gitlab.com/tinyland/lab/netpulse/pkg/connectivity"
	"gitlab.com/tinyland/lab/netpulse/pkg/daemon"
	"gitlab.com/tinyland/lab/netpulse/pkg/httpapi"
	"gitlab.com/tinyland/lab/netpulse/pkg/logging"
	"gitlab.com/tinyland/lab/netpulse/pkg/metrics"
	"gitlab.com/tinyland/lab/netpulse/pkg/platform"
	"gitlab.com/tinyland/lab/netpulse/pkg/quality"
	"gitlab.com/tinyland/lab/netpulse/pkg/starship"
	"gitlab.com/tinyland/lab/netpulse/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		runDaemon   = flag.Bool("daemon", false, "Run the background monitor daemon")
		runTUI      = flag.Bool("tui", false, "Launch the interactive Bubbletea TUI")
		runStarship = flag.Bool("starship", false, "Output one-line Starship format from the status file")
		sendRefresh = flag.Bool("refresh", false, "Ask a running daemon to probe now")
		printStatus = flag.Bool("status", false, "Print the current status")
		runOnce     = flag.Bool("once", false, "Run a single probe and print the result")
		showAge     = flag.Bool("starship-age", false, "Append the probe age to the Starship segment")
		installSvc  = flag.Bool("install-service", false, "Install and start the daemon as a user service")
		removeSvc   = flag.Bool("uninstall-service", false, "Stop and remove the daemon user service")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("netpulse %s (%s) built %s\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Starship runs on every prompt: no logger, no daemon round trip.
	if *runStarship {
		profile := termenv.TrueColor
		if termenv.EnvNoColor() {
			profile = termenv.Ascii
		}
		out := starship.Render(starship.Config{
			StatusFile: cfg.Daemon.StatusFile,
			MaxAge:     cfg.StatusMaxAge(),
			ShowAge:    *showAge,
			Profile:    profile,
		})
		if out != "" {
			fmt.Print(out)
		}
		return
	}

	logLevel := logging.ParseLevel(cfg.General.LogLevel)
	if *verbose {
		logLevel = slog.LevelDebug
	}

	var logger *slog.Logger
	closeLog := func() error { return nil }
	if *runTUI {
		// The TUI owns the terminal; log to the file only.
		logger, closeLog, err = fileLogger(logLevel, cfg.General.LogFile)
	} else {
		logger, closeLog, err = logging.Setup(logLevel, cfg.General.LogFile)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	switch {
	case *sendRefresh:
		if err := daemon.NewIPCClient(cfg.Daemon.SocketPath).Refresh(); err != nil {
			fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
			os.Exit(1)
		}

	case *printStatus:
		snap, err := currentStatus(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "no status available: %v\n", err)
			os.Exit(1)
		}
		if err := writeStatus(os.Stdout, snap); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case *installSvc:
		path, err := installService(cfg, *configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "install service: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("installed %s\n", path)

	case *removeSvc:
		inst, err := platform.NewInstaller()
		if err == nil {
			err = inst.Uninstall()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "uninstall service: %v\n", err)
			os.Exit(1)
		}

	case *runOnce:
		prober := quality.NewCommandProber(cfg.CommandConfig(), logger)
		probeCtx, probeCancel := context.WithTimeout(ctx, cfg.Probe.Timeout.Duration)
		sample, err := prober.Probe(probeCtx)
		probeCancel()
		if err != nil {
			logger.Error("probe failed", "error", err, "kind", quality.ErrorKind(err).String())
			os.Exit(1)
		}
		fmt.Println(quality.FormatSample(sample))

	case *runTUI:
		if err := runInteractive(ctx, cfg, logger); err != nil {
			logger.Error("TUI error", "error", err)
			fmt.Fprintf(os.Stderr, "tui: %v\n", err)
			os.Exit(1)
		}

	case *runDaemon:
		logger.Info("starting netpulse daemon",
			"probe_interval", cfg.Probe.Interval.Duration,
			"config", *configPath,
		)
		if err := runDaemonMode(ctx, cfg, logger); err != nil {
			logger.Error("daemon error", "error", err)
			os.Exit(1)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFromFile(path)
}

// fileLogger logs to logFile only, or nowhere when it is empty.
func fileLogger(level slog.Level, logFile string) (*slog.Logger, func() error, error) {
	if logFile == "" {
		return logging.New(level, io.Discard), func() error { return nil }, nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, func() error { return nil }, fmt.Errorf("open log file: %w", err)
	}
	return logging.New(level, f), f.Close, nil
}

// installService registers this binary as the daemon service. Output is
// redirected to a file in the cache dir unless the daemon logs to its own
// file already.
func installService(cfg *config.Config, configPath string) (string, error) {
	bin, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	svc := platform.ServiceConfig{BinaryPath: bin}
	if configPath != "" {
		if svc.ConfigPath, err = filepath.Abs(configPath); err != nil {
			return "", err
		}
	}
	if cfg.General.LogFile == "" {
		svc.LogPath = filepath.Join(cfg.General.CacheDir, "daemon.log")
	}

	inst, err := platform.NewInstaller()
	if err != nil {
		return "", err
	}
	return inst.Install(svc)
}

// components is the wiring shared by the daemon and the standalone TUI.
type components struct {
	monitor  *quality.Monitor
	watcher  *connectivity.Watcher
	recorder *metrics.Recorder
}

func newComponents(cfg *config.Config, logger *slog.Logger) *components {
	recorder := metrics.NewRecorder()
	prober := quality.NewCommandProber(cfg.CommandConfig(), logger.With("component", "prober"))
	monitor := quality.New(prober, cfg.MonitorConfig(),
		quality.WithLogger(logger.With("component", "monitor")),
		quality.WithObserver(recorder),
	)

	classifier := connectivity.NewNetClassifier(connectivity.NetClassifierConfig{
		CaptiveCheck: cfg.Connectivity.CaptiveCheck,
		CheckTimeout: cfg.Connectivity.CheckTimeout.Duration,
	}, logger.With("component", "classifier"))
	watcher := connectivity.NewWatcher(classifier,
		connectivity.WithPollInterval(cfg.Connectivity.PollInterval.Duration),
		connectivity.WithLogger(logger.With("component", "watcher")),
	)

	return &components{monitor: monitor, watcher: watcher, recorder: recorder}
}

func runDaemonMode(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	c := newComponents(cfg, logger)

	services := []daemon.Service{c.watcher.Run}
	if cfg.HTTP.Addr != "" {
		srv := httpapi.New(cfg.HTTP.Addr, c.monitor, c.recorder.Handler(), logger.With("component", "http"))
		services = append(services, srv.Run)
	}

	d := daemon.New(daemon.Config{
		SocketPath: cfg.Daemon.SocketPath,
		PIDFile:    cfg.Daemon.PIDFile,
		StatusFile: cfg.Daemon.StatusFile,
		Version:    version,
	}, c.monitor, logger)

	return d.Run(ctx, c.watcher.Events(), services...)
}

// runInteractive runs a private monitor for the lifetime of the TUI.
func runInteractive(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	c := newComponents(cfg, logger)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.watcher.Run(gctx) })
	g.Go(func() error { return c.monitor.Run(gctx, c.watcher.Events()) })

	err := tui.Run(ctx, c.monitor)
	cancel()
	if werr := g.Wait(); werr != nil && !errors.Is(werr, context.Canceled) && err == nil {
		err = werr
	}
	return err
}

// currentStatus asks the daemon first and falls back to the status file.
func currentStatus(cfg *config.Config) (quality.Snapshot, error) {
	snap, ipcErr := daemon.NewIPCClient(cfg.Daemon.SocketPath).Status()
	if ipcErr == nil {
		return snap, nil
	}

	rec, err := daemon.ReadStatus(cfg.Daemon.StatusFile)
	if err != nil {
		return quality.Snapshot{}, fmt.Errorf("daemon: %v; %w", ipcErr, err)
	}
	return rec.Snapshot, nil
}

// writeStatus prints a colored status line on a terminal and JSON
// otherwise, so the output can be piped into other tools.
func writeStatus(w *os.File, snap quality.Snapshot) error {
	fd := w.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		return enc.Encode(snap)
	}

	width := 0
	if cols, _, err := term.GetSize(fd); err == nil {
		width = cols
	}
	_, err := fmt.Fprintln(w, statusLine(termenv.EnvColorProfile(), snap, width))
	return err
}

func statusLine(p termenv.Profile, snap quality.Snapshot, width int) string {
	line := p.String(snap.Display).Foreground(p.Color(stateColor(snap))).Bold().String()
	line += p.String(" (" + snap.State.String() + ")").Faint().String()
	if snap.LastError != "" {
		line += " " + p.String("last error: "+snap.LastError).Foreground(p.Color("#EF4444")).String()
	}
	if width > 0 {
		line = ansi.Truncate(line, width, "…")
	}
	return line
}

func stateColor(snap quality.Snapshot) string {
	switch snap.State {
	case quality.StateSatisfied:
		if snap.Sample != nil {
			return "#22C55E"
		}
		return "#EAB308"
	case quality.StateUnsatisfied:
		return "#EF4444"
	default:
		return "#EAB308"
	}
}
