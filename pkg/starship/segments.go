package starship

import (
	"fmt"
	"time"

	"gitlab.com/tinyland/lab/netpulse/pkg/quality"
)

const (
	ssColorGreen  = "#22C55E"
	ssColorYellow = "#EAB308"
	ssColorRed    = "#EF4444"
)

// ssQualitySegment renders the status line itself.
// Example: "📶 10ms ↑1.9MB ↓4.8MB"
func ssQualitySegment(snap quality.Snapshot) *Segment {
	seg := &Segment{Text: snap.Display}
	switch snap.State {
	case quality.StateUnsatisfied:
		seg.Icon = "⛔"
		seg.Color = ssColorRed
	case quality.StateRequiresConnection:
		seg.Icon = "🔒"
		seg.Color = ssColorYellow
	case quality.StateSatisfied:
		seg.Icon = "📶"
		seg.Color = ssColorYellow
		if snap.Sample != nil {
			seg.Color = ssColorGreen
		}
	default:
		seg.Icon = "⏳"
		seg.Color = ssColorYellow
	}
	if seg.Text == "" {
		seg.Text = quality.FormatDisplay(snap.State, snap.Sample)
	}
	return seg
}

// ssAgeSegment shows how long ago the last probe finished, in the largest
// whole unit. Nil when no probe has finished yet.
// Example: "⌛ 3m"
func ssAgeSegment(snap quality.Snapshot, now time.Time) *Segment {
	if snap.LastProbeAt.IsZero() {
		return nil
	}
	return &Segment{Icon: "⌛", Text: ssShortAge(now.Sub(snap.LastProbeAt))}
}

func ssShortAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		if d < 0 {
			d = 0
		}
		return fmt.Sprintf("%ds", int(d/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
}
