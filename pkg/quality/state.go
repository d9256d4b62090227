// Package quality implements the measurement-coordination core of netpulse.
// A Monitor owns the current connectivity state and the last speed sample,
// a Coalescer serialises probe triggers coming from connectivity changes, a
// periodic timer and manual refreshes, and a Prober runs the external
// measurement command. Every state transition is rendered by FormatDisplay
// and broadcast to subscribers as an immutable Snapshot.
package quality

import (
	"fmt"
	"strings"
	"time"
)

// ConnectivityState is the OS-reported reachability classification of the
// active network path.
type ConnectivityState int

const (
	StateUnknown ConnectivityState = iota
	StateUnsatisfied
	StateRequiresConnection
	StateSatisfied
)

var stateNames = map[ConnectivityState]string{
	StateUnknown:            "unknown",
	StateUnsatisfied:        "unsatisfied",
	StateRequiresConnection: "requires_connection",
	StateSatisfied:          "satisfied",
}

// String returns the lowercase text form of the state. Values outside the
// known set render as ConnectivityState(n).
func (s ConnectivityState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ConnectivityState(%d)", int(s))
}

// Valid reports whether s is one of the four known states.
func (s ConnectivityState) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnectivityState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ConnectivityState) UnmarshalText(text []byte) error {
	parsed, err := ParseConnectivityState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseConnectivityState converts a text form back into a state. Matching is
// case-insensitive and accepts "-" in place of "_".
func ParseConnectivityState(s string) (ConnectivityState, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for state, name := range stateNames {
		if name == norm {
			return state, nil
		}
	}
	return StateUnknown, fmt.Errorf("unknown connectivity state %q", s)
}

// SpeedSample is one successful measurement. It is a plain value: two
// samples are equal when all fields are equal.
type SpeedSample struct {
	PingMS      int64 `json:"ping_ms"`
	HasPing     bool  `json:"has_ping"`
	UploadBps   int64 `json:"upload_bps"`
	DownloadBps int64 `json:"download_bps"`
}

// NewSpeedSample builds a sample with a ping value present.
func NewSpeedSample(pingMS, uploadBps, downloadBps int64) SpeedSample {
	return SpeedSample{
		PingMS:      pingMS,
		HasPing:     true,
		UploadBps:   uploadBps,
		DownloadBps: downloadBps,
	}
}

// String renders the sample the way the status line shows it.
func (s SpeedSample) String() string {
	return FormatSample(s)
}

// Snapshot is the published, immutable view of the monitor. Sample is nil
// when no valid measurement exists for the current connection.
type Snapshot struct {
	State       ConnectivityState `json:"state"`
	Sample      *SpeedSample      `json:"sample,omitempty"`
	Display     string            `json:"display"`
	Probing     bool              `json:"probing"`
	LastProbeAt time.Time         `json:"last_probe_at,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
