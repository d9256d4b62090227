// Package connectivity classifies the host's network path into a
// quality.ConnectivityState and reports changes as a stream of events.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"gitlab.com/tinyland/lab/netpulse/pkg/quality"
)

// DefaultPollInterval is how often the Watcher re-classifies the path.
const DefaultPollInterval = 2 * time.Second

// ErrWatcherRunning is returned by Run when the watcher is already running.
var ErrWatcherRunning = errors.New("watcher already running")

// Source delivers connectivity states in the order they were observed.
type Source interface {
	Events() <-chan quality.ConnectivityState
}

// Classifier inspects the current network path.
type Classifier interface {
	Classify(ctx context.Context) quality.ConnectivityState
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(ctx context.Context) quality.ConnectivityState

// Classify calls f(ctx).
func (f ClassifierFunc) Classify(ctx context.Context) quality.ConnectivityState { return f(ctx) }

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) WatcherOption {
	return func(w *Watcher) { w.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// Watcher polls a Classifier and emits a state whenever the classification
// differs from the last one emitted. The first classification is always
// emitted.
type Watcher struct {
	classifier Classifier
	interval   time.Duration
	clock      clock.Clock
	logger     *slog.Logger

	events  chan quality.ConnectivityState
	running atomic.Bool
	polls   atomic.Int64
}

// NewWatcher creates a watcher around classifier.
func NewWatcher(classifier Classifier, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		classifier: classifier,
		interval:   DefaultPollInterval,
		clock:      clock.New(),
		logger:     slog.Default(),
		events:     make(chan quality.ConnectivityState, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Events returns the state stream. It is closed when Run returns.
func (w *Watcher) Events() <-chan quality.ConnectivityState {
	return w.events
}

// Polls returns how many classifications have run.
func (w *Watcher) Polls() int64 {
	return w.polls.Load()
}

// Run classifies immediately and then on every poll interval until ctx is
// done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrWatcherRunning
	}
	defer close(w.events)

	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	last := quality.ConnectivityState(-1)
	for {
		state := w.classify(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if state != last {
			w.logger.Debug("connectivity classified", "state", state, "previous", last)
			select {
			case w.events <- state:
				last = state
			case <-ctx.Done():
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Watcher) classify(ctx context.Context) quality.ConnectivityState {
	w.polls.Add(1)
	return w.classifier.Classify(ctx)
}
