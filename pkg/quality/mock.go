package quality

import (
	"context"
	"sync"
	"sync/atomic"
)

// MockProber implements Prober for testing. It returns a configurable sample
// and error, tracks how many times Probe has been called and records the
// highest number of overlapping calls it has seen.
type MockProber struct {
	mu     sync.RWMutex
	sample SpeedSample
	err    error

	callCount atomic.Int64
	inFlight  atomic.Int64
	maxFlight atomic.Int64

	// ProbeFunc, if set, overrides the default Probe behavior. Tests use it
	// to block a probe until a signal or to vary results per call.
	ProbeFunc func(ctx context.Context) (SpeedSample, error)
}

// MockProberOption configures a MockProber.
type MockProberOption func(*MockProber)

// WithSample sets the sample returned by Probe.
func WithSample(s SpeedSample) MockProberOption {
	return func(m *MockProber) { m.sample = s }
}

// WithProbeError sets the error returned by Probe.
func WithProbeError(err error) MockProberOption {
	return func(m *MockProber) { m.err = err }
}

// WithProbeFunc sets a custom function for Probe.
func WithProbeFunc(fn func(ctx context.Context) (SpeedSample, error)) MockProberOption {
	return func(m *MockProber) { m.ProbeFunc = fn }
}

// NewMockProber creates a mock prober with the given options.
func NewMockProber(opts ...MockProberOption) *MockProber {
	m := &MockProber{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetSample updates the returned sample (thread-safe).
func (m *MockProber) SetSample(s SpeedSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sample = s
}

// SetError updates the returned error (thread-safe).
func (m *MockProber) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Probe performs a mock measurement.
func (m *MockProber) Probe(ctx context.Context) (SpeedSample, error) {
	m.callCount.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxFlight.Load()
		if n <= cur || m.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if m.ProbeFunc != nil {
		return m.ProbeFunc(ctx)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sample, m.err
}

// CallCount returns how many times Probe has been called.
func (m *MockProber) CallCount() int64 {
	return m.callCount.Load()
}

// MaxConcurrent returns the highest number of overlapping Probe calls.
func (m *MockProber) MaxConcurrent() int64 {
	return m.maxFlight.Load()
}
