package quality

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrMonitorRunning is returned by Run when the monitor is already running.
var ErrMonitorRunning = errors.New("monitor already running")

// Config controls probe cadence and the per-probe timeout.
type Config struct {
	Coalescer    CoalescerConfig
	ProbeTimeout time.Duration
}

// DefaultConfig returns the default cadence and a 30s probe timeout.
func DefaultConfig() Config {
	return Config{
		Coalescer:    DefaultCoalescerConfig(),
		ProbeTimeout: DefaultProbeTimeout,
	}
}

// Stats aggregates trigger and probe counters.
type Stats struct {
	CoalescerStats
	Failures int64 `json:"failures"`
	Stale    int64 `json:"stale"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithObserver registers an Observer for trigger and probe notifications.
func WithObserver(o Observer) Option {
	return func(m *Monitor) { m.observer = o }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

type probeStart struct {
	src   TriggerSource
	reply chan uint64
}

type probeResult struct {
	id         string
	src        TriggerSource
	generation uint64
	sample     SpeedSample
	err        error
	elapsed    time.Duration
}

// Monitor owns the connectivity state and the last speed sample.
//
// All mutation happens on the goroutine started by Run. Connectivity events,
// probe starts and probe results reach it over channels, so state changes are
// applied in arrival order and the generation read by a probe at start is
// always the one that was current when the probe began. Probes themselves run
// on the coalescer goroutine.
type Monitor struct {
	prober    Prober
	coalescer *Coalescer
	observer  Observer
	logger    *slog.Logger
	clock     clock.Clock
	timeout   time.Duration

	events  chan ConnectivityState
	starts  chan probeStart
	results chan probeResult

	current atomic.Pointer[Snapshot]
	subs    *broadcaster
	running atomic.Bool

	failures atomic.Int64
	stale    atomic.Int64

	// Owned by the run loop.
	state       ConnectivityState
	sample      *SpeedSample
	generation  uint64
	probing     bool
	lastProbeAt time.Time
	lastErr     string
}

// New creates a monitor in the initial state (Unknown, no sample).
func New(prober Prober, cfg Config, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		observer: NopObserver{},
		logger:   slog.Default(),
		clock:    clock.New(),
		timeout:  cfg.ProbeTimeout,
		events:   make(chan ConnectivityState, 16),
		starts:   make(chan probeStart),
		results:  make(chan probeResult),
		subs:     newBroadcaster(),
		state:    StateUnknown,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.timeout <= 0 {
		m.timeout = DefaultProbeTimeout
	}
	m.coalescer = NewCoalescer(cfg.Coalescer, m.clock, m.observer)
	m.current.Store(m.buildSnapshot())
	return m
}

// Run drives the monitor until ctx is done. States received on source are
// applied in order; a nil source is allowed when connectivity is pushed with
// UpdateConnectivity instead. Run returns nil on cancellation.
func (m *Monitor) Run(ctx context.Context, source <-chan ConnectivityState) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrMonitorRunning
	}
	defer m.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.coalescer.Run(gctx, m.runProbe)
	})
	g.Go(func() error {
		return m.loop(gctx, source)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// UpdateConnectivity pushes a connectivity event. It blocks only if the
// event queue is full and returns ctx.Err() if ctx ends first.
func (m *Monitor) UpdateConnectivity(ctx context.Context, state ConnectivityState) error {
	select {
	case m.events <- state:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh asks for a probe. Calls made while a probe is in flight collapse
// into one follow-up probe.
func (m *Monitor) Refresh() {
	m.coalescer.Trigger(SourceManual)
}

// Current returns the most recently published snapshot.
func (m *Monitor) Current() Snapshot {
	return *m.current.Load()
}

// Subscribe returns a subscription primed with the current snapshot.
func (m *Monitor) Subscribe() *Subscription {
	return m.subs.subscribe(m.Current)
}

// Subscribers returns the number of open subscriptions.
func (m *Monitor) Subscribers() int {
	return m.subs.count()
}

// Stats returns trigger and probe counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		CoalescerStats: m.coalescer.Stats(),
		Failures:       m.failures.Load(),
		Stale:          m.stale.Load(),
	}
}

func (m *Monitor) loop(ctx context.Context, source <-chan ConnectivityState) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case state, ok := <-source:
			if !ok {
				source = nil
				continue
			}
			m.applyConnectivity(state)
		case state := <-m.events:
			m.applyConnectivity(state)
		case start := <-m.starts:
			m.probing = true
			start.reply <- m.generation
			m.publish()
		case res := <-m.results:
			m.applyResult(res)
			m.publish()
		}
	}
}

// applyConnectivity records a new state and then triggers a probe, so the
// probe always starts against the state that caused it.
func (m *Monitor) applyConnectivity(state ConnectivityState) {
	if state != m.state {
		m.logger.Info("connectivity changed", "from", m.state, "to", state)
		m.state = state
		m.sample = nil
		m.generation++
		m.observer.StateChanged(state)
		m.publish()
	}
	m.coalescer.Trigger(SourceConnectivity)
}

func (m *Monitor) applyResult(res probeResult) {
	m.probing = false
	m.lastProbeAt = m.clock.Now()
	log := m.logger.With("probe_id", res.id, "trigger", res.src, "elapsed", res.elapsed)

	switch {
	case res.err != nil:
		m.failures.Add(1)
		m.lastErr = res.err.Error()
		log.Warn("probe failed", "kind", ErrorKind(res.err), "error", res.err)
		m.observer.ProbeFinished(res.elapsed, SpeedSample{}, res.err, false)
	case res.generation != m.generation:
		m.stale.Add(1)
		log.Debug("discarding stale sample", "sample", res.sample, "state", m.state)
		m.observer.ProbeFinished(res.elapsed, res.sample, nil, true)
	default:
		sample := res.sample
		m.sample = &sample
		m.lastErr = ""
		log.Info("probe complete", "sample", sample)
		m.observer.ProbeFinished(res.elapsed, sample, nil, false)
	}
}

// runProbe executes on the coalescer goroutine.
func (m *Monitor) runProbe(ctx context.Context, src TriggerSource) {
	reply := make(chan uint64, 1)
	select {
	case m.starts <- probeStart{src: src, reply: reply}:
	case <-ctx.Done():
		return
	}
	generation := <-reply

	id := uuid.NewString()
	m.observer.ProbeStarted(src)
	m.logger.Debug("probe started", "probe_id", id, "trigger", src)

	start := m.clock.Now()
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	sample, err := m.prober.Probe(probeCtx)
	cancel()

	res := probeResult{
		id:         id,
		src:        src,
		generation: generation,
		sample:     sample,
		err:        normalizeProbeError(err),
		elapsed:    m.clock.Since(start),
	}
	select {
	case m.results <- res:
	case <-ctx.Done():
	}
}

func (m *Monitor) publish() {
	snap := m.buildSnapshot()
	m.current.Store(snap)
	m.subs.publish(*snap)
}

func (m *Monitor) buildSnapshot() *Snapshot {
	snap := &Snapshot{
		State:       m.state,
		Display:     FormatDisplay(m.state, m.sample),
		Probing:     m.probing,
		LastProbeAt: m.lastProbeAt,
		LastError:   m.lastErr,
		UpdatedAt:   m.clock.Now(),
	}
	if m.sample != nil {
		sample := *m.sample
		snap.Sample = &sample
	}
	return snap
}
