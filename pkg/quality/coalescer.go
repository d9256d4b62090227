package quality

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// TriggerSource says what asked for a probe. It is carried for logging and
// metrics only; every trigger means the same thing.
type TriggerSource int

const (
	SourceConnectivity TriggerSource = iota + 1
	SourceTimer
	SourceManual
)

func (s TriggerSource) String() string {
	switch s {
	case SourceConnectivity:
		return "connectivity"
	case SourceTimer:
		return "timer"
	case SourceManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Default probe cadence. The periodic trigger fires after Interval plus a
// random delay of up to Jitter.
const (
	DefaultInterval = 75 * time.Second
	DefaultJitter   = 20 * time.Second
	DefaultSettle   = 250 * time.Millisecond
)

// ErrCoalescerRunning is returned by Run when the coalescer is already
// running.
var ErrCoalescerRunning = errors.New("coalescer already running")

// CoalescerConfig controls trigger cadence. A zero Interval disables the
// periodic trigger; a zero Settle starts runs as soon as a trigger is seen.
type CoalescerConfig struct {
	Interval time.Duration
	Jitter   time.Duration
	Settle   time.Duration
}

// DefaultCoalescerConfig returns the 75s/20s/250ms cadence.
func DefaultCoalescerConfig() CoalescerConfig {
	return CoalescerConfig{
		Interval: DefaultInterval,
		Jitter:   DefaultJitter,
		Settle:   DefaultSettle,
	}
}

// CoalescerStats is a point-in-time copy of the coalescer counters.
type CoalescerStats struct {
	Triggers  int64 `json:"triggers"`
	Coalesced int64 `json:"coalesced"`
	Runs      int64 `json:"runs"`
}

// Coalescer merges trigger streams into a single serialised run stream.
//
// There is one pending slot. A trigger that finds the slot empty fills it;
// any other trigger is dropped. The run loop takes the slot, waits out the
// settle window (absorbing whatever arrives meanwhile), then runs. Triggers
// that arrive during a run refill the slot once, which yields exactly one
// follow-up run.
type Coalescer struct {
	cfg      CoalescerConfig
	clock    clock.Clock
	observer Observer

	pending chan TriggerSource
	running atomic.Bool

	triggers  atomic.Int64
	coalesced atomic.Int64
	runs      atomic.Int64
}

// NewCoalescer creates a coalescer. A nil clk uses the wall clock and a nil
// observer discards notifications.
func NewCoalescer(cfg CoalescerConfig, clk clock.Clock, observer Observer) *Coalescer {
	if clk == nil {
		clk = clock.New()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Coalescer{
		cfg:      cfg,
		clock:    clk,
		observer: observer,
		pending:  make(chan TriggerSource, 1),
	}
}

// Trigger requests a run. It never blocks and is safe from any goroutine.
func (c *Coalescer) Trigger(src TriggerSource) {
	c.triggers.Add(1)
	c.observer.TriggerReceived(src)
	select {
	case c.pending <- src:
	default:
		c.coalesced.Add(1)
		c.observer.TriggerCoalesced(src)
	}
}

// Stats returns the current counters.
func (c *Coalescer) Stats() CoalescerStats {
	return CoalescerStats{
		Triggers:  c.triggers.Load(),
		Coalesced: c.coalesced.Load(),
		Runs:      c.runs.Load(),
	}
}

// Run calls fn once per coalesced trigger until ctx is done. Calls to fn
// never overlap. Run returns ctx.Err() on cancellation.
func (c *Coalescer) Run(ctx context.Context, fn func(ctx context.Context, src TriggerSource)) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrCoalescerRunning
	}
	defer c.running.Store(false)

	tickDone := make(chan struct{})
	if c.cfg.Interval > 0 {
		go func() {
			defer close(tickDone)
			c.tick(ctx)
		}()
	} else {
		close(tickDone)
	}
	defer func() { <-tickDone }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case src := <-c.pending:
			if !c.settle(ctx) {
				return ctx.Err()
			}
			c.run(ctx, fn, src)
		}
	}
}

// run calls fn for src, then once more without settling if a trigger
// arrived while fn was running.
func (c *Coalescer) run(ctx context.Context, fn func(ctx context.Context, src TriggerSource), src TriggerSource) {
	for {
		c.runs.Add(1)
		fn(ctx, src)
		select {
		case src = <-c.pending:
			if ctx.Err() != nil {
				return
			}
		default:
			return
		}
	}
}

// settle waits for the settle window, absorbing triggers that arrive in it.
// It returns false if ctx ends first.
func (c *Coalescer) settle(ctx context.Context) bool {
	if c.cfg.Settle <= 0 {
		return true
	}
	timer := c.clock.Timer(c.cfg.Settle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case src := <-c.pending:
			c.coalesced.Add(1)
			c.observer.TriggerCoalesced(src)
		}
	}
}

func (c *Coalescer) tick(ctx context.Context) {
	for {
		timer := c.clock.Timer(c.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			c.Trigger(SourceTimer)
		}
	}
}

func (c *Coalescer) nextDelay() time.Duration {
	d := c.cfg.Interval
	if c.cfg.Jitter > 0 {
		d += rand.N(c.cfg.Jitter + 1)
	}
	return d
}
