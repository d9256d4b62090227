// Package starship renders the monitor status as a single line for use as
// a starship custom module. It reads the daemon's status file and never
// talks to the daemon, so the prompt cannot block on it.
package starship

import (
	"time"

	"github.com/muesli/termenv"
)

// Config controls the rendered line.
type Config struct {
	StatusFile string        // status file written by the daemon
	MaxAge     time.Duration // older records are ignored; <= 0 disables
	MaxWidth   int           // max visible width (default 40)
	ShowAge    bool          // append how long ago the last probe finished
	Profile    termenv.Profile
}

// Segment represents a single piece of the status line.
type Segment struct {
	Icon  string // emoji, may be empty
	Text  string // the actual content
	Color string // hex color, empty for none
}

const ssDefaultMaxWidth = 40

// Render reads the status file and produces the module line. It returns an
// empty string when there is nothing trustworthy to show (starship hides
// empty modules).
func Render(cfg Config) string {
	return render(cfg, time.Now())
}

func render(cfg Config, now time.Time) string {
	rec := ssReadStatus(cfg.StatusFile, cfg.MaxAge, now)
	if rec == nil {
		return ""
	}

	maxWidth := cfg.MaxWidth
	if maxWidth <= 0 {
		maxWidth = ssDefaultMaxWidth
	}

	segments := []*Segment{ssQualitySegment(rec.Snapshot)}
	if cfg.ShowAge {
		if seg := ssAgeSegment(rec.Snapshot, now); seg != nil {
			segments = append(segments, seg)
		}
	}

	return ssFormatLine(cfg.Profile, segments, maxWidth)
}
