package quality

import "time"

// Observer receives lifecycle notifications from the Coalescer and the
// Monitor. Calls are made synchronously from the component's goroutine and
// must not block. pkg/metrics provides the prometheus implementation.
type Observer interface {
	TriggerReceived(src TriggerSource)
	TriggerCoalesced(src TriggerSource)
	ProbeStarted(src TriggerSource)
	// ProbeFinished reports one completed attempt. stale is true when a
	// successful sample was discarded because connectivity changed.
	ProbeFinished(elapsed time.Duration, sample SpeedSample, err error, stale bool)
	StateChanged(state ConnectivityState)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) TriggerReceived(TriggerSource) {}
func (NopObserver) TriggerCoalesced(TriggerSource) {}
func (NopObserver) ProbeStarted(TriggerSource) {}
func (NopObserver) ProbeFinished(time.Duration, SpeedSample, error, bool) {}
func (NopObserver) StateChanged(ConnectivityState) {}
