package quality

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	sampleA = NewSpeedSample(10, 2_000_000, 5_000_000)
	sampleB = NewSpeedSample(25, 1_048_576, 2_097_152)
)

// recordingObserver counts notifications. Methods are called from two
// goroutines, so everything is behind a mutex.
type recordingObserver struct {
	mu        sync.Mutex
	states    []ConnectivityState
	started   int
	finished  int
	stale     int
	failed    int
	coalesced int
}

func (o *recordingObserver) TriggerReceived(TriggerSource) {}

func (o *recordingObserver) TriggerCoalesced(TriggerSource) {
	o.mu.Lock()
	o.coalesced++
	o.mu.Unlock()
}

func (o *recordingObserver) ProbeStarted(TriggerSource) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recordingObserver) ProbeFinished(_ time.Duration, _ SpeedSample, err error, stale bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
	if err != nil {
		o.failed++
	}
	if stale {
		o.stale++
	}
}

func (o *recordingObserver) StateChanged(s ConnectivityState) {
	o.mu.Lock()
	o.states = append(o.states, s)
	o.mu.Unlock()
}

func (o *recordingObserver) stateChanges() []ConnectivityState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ConnectivityState(nil), o.states...)
}

func testConfig() Config {
	return Config{
		Coalescer:    CoalescerConfig{Settle: 10 * time.Millisecond},
		ProbeTimeout: 5 * time.Second,
	}
}

func startMonitor(t *testing.T, m *Monitor, source <-chan ConnectivityState) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, source) }()
	waitFor(t, time.Second, "monitor running", m.running.Load)

	return func() {
		stop()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v, want nil", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	}
}

func mustUpdate(t *testing.T, m *Monitor, s ConnectivityState) {
	t.Helper()
	if err := m.UpdateConnectivity(context.Background(), s); err != nil {
		t.Fatalf("UpdateConnectivity(%v): %v", s, err)
	}
}

func TestMonitorInitialSnapshot(t *testing.T) {
	m := New(NewMockProber(), testConfig(), WithLogger(discardLogger()))
	snap := m.Current()
	if snap.State != StateUnknown {
		t.Errorf("State = %v, want unknown", snap.State)
	}
	if snap.Sample != nil {
		t.Errorf("Sample = %+v, want nil", snap.Sample)
	}
	if snap.Display != TextInitializing {
		t.Errorf("Display = %q, want %q", snap.Display, TextInitializing)
	}
}

func TestMonitorSatisfiedProbeDisplaysSample(t *testing.T) {
	prober := NewMockProber(WithSample(sampleA))
	m := New(prober, testConfig(), WithLogger(discardLogger()))
	stop := startMonitor(t, m, nil)
	defer stop()

	mustUpdate(t, m, StateSatisfied)
	waitFor(t, 2*time.Second, "sample display", func() bool {
		return m.Current().Display == "10ms ↑1.9MB ↓4.8MB"
	})

	snap := m.Current()
	if snap.Sample == nil || *snap.Sample != sampleA {
		t.Errorf("Sample = %+v, want %+v", snap.Sample, sampleA)
	}
	if snap.Probing {
		t.Error("Probing should be false after the result")
	}
	if snap.LastProbeAt.IsZero() {
		t.Error("LastProbeAt should be set")
	}

	// Nothing else triggers, so the monitor stays idle.
	time.Sleep(100 * time.Millisecond)
	if got := prober.CallCount(); got != 1 {
		t.Errorf("probes = %d, want 1", got)
	}
}

func TestMonitorTriggerBurstProbesOnce(t *testing.T) {
	prober := NewMockProber(WithSample(sampleA))
	cfg := testConfig()
	cfg.Coalescer.Settle = 200 * time.Millisecond
	obs := &recordingObserver{}
	m := New(prober, cfg, WithLogger(discardLogger()), WithObserver(obs))
	stop := startMonitor(t, m, nil)
	defer stop()

	mustUpdate(t, m, StateSatisfied)
	for i := 0; i < 20; i++ {
		m.Refresh()
	}

	waitFor(t, 2*time.Second, "sample display", func() bool {
		return m.Current().Display == "10ms ↑1.9MB ↓4.8MB"
	})
	time.Sleep(300 * time.Millisecond)

	if got := prober.CallCount(); got != 1 {
		t.Errorf("probes = %d, want 1", got)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.started != 1 {
		t.Errorf("ProbeStarted = %d, want 1", obs.started)
	}
	if obs.coalesced != 20 {
		t.Errorf("TriggerCoalesced = %d, want 20", obs.coalesced)
	}
}

func TestMonitorStateDisplays(t *testing.T) {
	prober := NewMockProber(WithSample(sampleA))
	m := New(prober, testConfig(), WithLogger(discardLogger()))
	stop := startMonitor(t, m, nil)
	defer stop()

	mustUpdate(t, m, StateUnsatisfied)
	waitFor(t, time.Second, "offline", func() bool { return m.Current().Display == TextOffline })

	mustUpdate(t, m, StateRequiresConnection)
	waitFor(t, time.Second, "captive", func() bool { return m.Current().Display == TextCaptive })
}

func TestMonitorStaleResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	prober := NewMockProber(WithProbeFunc(func(ctx context.Context) (SpeedSample, error) {
		if calls.Add(1) == 1 {
			<-release
			return sampleA, nil
		}
		return sampleB, nil
	}))
	obs := &recordingObserver{}
	m := New(prober, testConfig(), WithLogger(discardLogger()), WithObserver(obs))
	stop := startMonitor(t, m, nil)
	defer stop()

	mustUpdate(t, m, StateSatisfied)
	waitFor(t, time.Second, "first probe", func() bool { return calls.Load() == 1 })

	mustUpdate(t, m, StateUnsatisfied)
	waitFor(t, time.Second, "offline", func() bool { return m.Current().State == StateUnsatisfied })
	mustUpdate(t, m, StateSatisfied)
	close(release)

	waitFor(t, 2*time.Second, "fresh sample", func() bool {
		s := m.Current()
		return s.State == StateSatisfied && s.Sample != nil
	})
	if got := *m.Current().Sample; got != sampleB {
		t.Errorf("Sample = %+v, want %+v (stale sample leaked)", got, sampleB)
	}
	if got := m.Stats().Stale; got != 1 {
		t.Errorf("Stale = %d, want 1", got)
	}
}

func TestMonitorClearsSampleOnStateChange(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	prober := NewMockProber(WithProbeFunc(func(ctx context.Context) (SpeedSample, error) {
		if calls.Add(1) == 1 {
			return sampleA, nil
		}
		<-release
		return sampleB, nil
	}))
	m := New(prober, testConfig(), WithLogger(discardLogger()))
	stop := startMonitor(t, m, nil)
	defer stop()

	mustUpdate(t, m, StateSatisfied)
	waitFor(t, time.Second, "first sample", func() bool { return m.Current().Sample != nil })

	mustUpdate(t, m, StateUnsatisfied)
	waitFor(t, time.Second, "offline", func() bool { return m.Current().State == StateUnsatisfied })
	if s := m.Current(); s.Sample != nil || s.Display != TextOffline {
		t.Errorf("after disconnect: Sample = %+v, Display = %q", s.Sample, s.Display)
	}

	mustUpdate(t, m, StateSatisfied)
	waitFor(t, time.Second, "satisfied", func() bool { return m.Current().State == StateSatisfied })
	if s := m.Current(); s.Sample != nil || s.Display != TextTesting {
		t.Errorf("after reconnect: Sample = %+v, Display = %q, want no sample and %q", s.Sample, s.Display, TextTesting)
	}

	close(release)
	waitFor(t, 2*time.Second, "new sample", func() bool {
		s := m.Current()
		return s.Sample != nil && *s.Sample == sampleB
	})
}

func TestMonitorFailureKeepsSample(t *testing.T) {
	prober := NewMockProber(WithSample(sampleA))
	m := New(prober, testConfig(), WithLogger(discardLogger()))
	stop := startMonitor(t, m, nil)
	defer stop()

	mustUpdate(t, m, StateSatisfied)
	waitFor(t, time.Second, "first sample", func() bool { return m.Current().Sample != nil })

	prober.SetError(&ProbeError{Kind: ProbeExecutionFailed, Err: errors.New("exit status 1")})
	m.Refresh()
	waitFor(t, 2*time.Second, "failure recorded", func() bool { return m.Stats().Failures == 1 })

	snap := m.Current()
	if snap.Sample == nil || *snap.Sample != sampleA {
		t.Errorf("Sample = %+v, want previous %+v", snap.Sample, sampleA)
	}
	if snap.Display != "10ms ↑1.9MB ↓4.8MB" {
		t.Errorf("Display = %q", snap.Display)
	}
	if !strings.Contains(snap.LastError, "exit status 1") {
		t.Errorf("LastError = %q", snap.LastError)
	}

	prober.SetError(nil)
	prober.SetSample(sampleB)
	m.Refresh()
	waitFor(t, 2*time.Second, "recovered sample", func() bool {
		s := m.Current()
		return s.Sample != nil && *s.Sample == sampleB && s.LastError == ""
	})
}

func TestMonitorProbeTimeout(t *testing.T) {
	prober := NewMockProber(WithProbeFunc(func(ctx context.Context) (SpeedSample, error) {
		<-ctx.Done()
		return SpeedSample{}, ctx.Err()
	}))
	cfg := testConfig()
	cfg.ProbeTimeout = 50 * time.Millisecond
	m := New(prober, cfg, WithLogger(discardLogger()))
	stop := startMonitor(t, m, nil)
	defer stop()

	m.Refresh()
	waitFor(t, 2*time.Second, "timeout failure", func() bool { return m.Stats().Failures == 1 })
	if got := m.Current().LastError; !strings.Contains(got, ErrTimeout.Error()) {
		t.Errorf("LastError = %q, want it to mention %q", got, ErrTimeout)
	}
}

func TestMonitorRepeatedStateIsIdempotent(t *testing.T) {
	prober := NewMockProber(WithSample(sampleA))
	obs := &recordingObserver{}
	m := New(prober, testConfig(), WithLogger(discardLogger()), WithObserver(obs))
	stop := startMonitor(t, m, nil)
	defer stop()

	mustUpdate(t, m, StateSatisfied)
	waitFor(t, time.Second, "first sample", func() bool { return m.Current().Sample != nil })

	mustUpdate(t, m, StateSatisfied)
	mustUpdate(t, m, StateSatisfied)
	waitFor(t, 2*time.Second, "repeat probes", func() bool { return prober.CallCount() >= 2 })

	if got := obs.stateChanges(); len(got) != 1 || got[0] != StateSatisfied {
		t.Errorf("state changes = %v, want [satisfied]", got)
	}
	if m.Current().Sample == nil {
		t.Error("repeated state should not clear the sample")
	}
}

func TestMonitorProbesAreSerialised(t *testing.T) {
	prober := NewMockProber(WithProbeFunc(func(ctx context.Context) (SpeedSample, error) {
		time.Sleep(5 * time.Millisecond)
		return sampleA, nil
	}))
	m := New(prober, Config{ProbeTimeout: time.Second}, WithLogger(discardLogger()))
	stop := startMonitor(t, m, nil)
	defer stop()

	for i := 0; i < 50; i++ {
		m.Refresh()
		if i%2 == 0 {
			mustUpdate(t, m, StateSatisfied)
		}
	}
	waitFor(t, 2*time.Second, "probes", func() bool { return prober.CallCount() >= 2 })
	time.Sleep(50 * time.Millisecond)

	if got := prober.MaxConcurrent(); got != 1 {
		t.Errorf("max concurrent probes = %d, want 1", got)
	}
}

func TestMonitorSourceChannel(t *testing.T) {
	prober := NewMockProber(WithSample(sampleA))
	m := New(prober, testConfig(), WithLogger(discardLogger()))
	source := make(chan ConnectivityState)
	stop := startMonitor(t, m, source)
	defer stop()

	source <- StateRequiresConnection
	waitFor(t, time.Second, "captive", func() bool { return m.Current().State == StateRequiresConnection })

	close(source)
	mustUpdate(t, m, StateSatisfied)
	waitFor(t, 2*time.Second, "sample after source closed", func() bool { return m.Current().Sample != nil })
}

func TestMonitorSubscribe(t *testing.T) {
	prober := NewMockProber(WithSample(sampleA))
	m := New(prober, testConfig(), WithLogger(discardLogger()))

	sub := m.Subscribe()
	defer sub.Close()

	select {
	case snap := <-sub.C():
		if snap.Display != TextInitializing {
			t.Errorf("initial Display = %q, want %q", snap.Display, TextInitializing)
		}
	case <-time.After(time.Second):
		t.Fatal("subscription was not primed")
	}

	stop := startMonitor(t, m, nil)
	defer stop()
	mustUpdate(t, m, StateSatisfied)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap := <-sub.C():
			if snap.Sample != nil && *snap.Sample == sampleA {
				return
			}
		case <-timeout:
			t.Fatal("subscriber never saw the sample")
		}
	}
}

func TestMonitorRunTwice(t *testing.T) {
	m := New(NewMockProber(), testConfig(), WithLogger(discardLogger()))
	stop := startMonitor(t, m, nil)
	defer stop()

	if err := m.Run(context.Background(), nil); !errors.Is(err, ErrMonitorRunning) {
		t.Errorf("second Run = %v, want ErrMonitorRunning", err)
	}
}

func TestMonitorUpdateConnectivityRespectsContext(t *testing.T) {
	m := New(NewMockProber(), testConfig(), WithLogger(discardLogger()))
	for i := 0; i < cap(m.events); i++ {
		mustUpdate(t, m, StateSatisfied)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.UpdateConnectivity(ctx, StateSatisfied); !errors.Is(err, context.Canceled) {
		t.Errorf("UpdateConnectivity on full queue = %v, want context.Canceled", err)
	}
}
