package starship

import (
	"time"

	"gitlab.com/tinyland/lab/netpulse/pkg/daemon"
)

// ssReadStatus returns the status record at path, or nil if the file is
// missing, unparsable, or older than maxAge.
func ssReadStatus(path string, maxAge time.Duration, now time.Time) *daemon.StatusRecord {
	if path == "" {
		return nil
	}
	rec, err := daemon.ReadStatus(path)
	if err != nil {
		return nil
	}
	if rec.Stale(maxAge, now) {
		return nil
	}
	return rec
}
