package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gitlab.com/tinyland/lab/netpulse/pkg/quality"
)

// StatusRecord is the on-disk form of the latest snapshot. Prompt segments
// read it instead of talking to the daemon so shell startup never blocks.
type StatusRecord struct {
	quality.Snapshot
	PID       int       `json:"pid"`
	WrittenAt time.Time `json:"written_at"`
}

// Stale reports whether the record is older than maxAge at now. A
// non-positive maxAge disables the check.
func (r *StatusRecord) Stale(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(r.WrittenAt) > maxAge
}

// ReadStatus reads and parses the status file at path.
func ReadStatus(path string) (*StatusRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read status file: %w", err)
	}

	var rec StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal status file: %w", err)
	}

	return &rec, nil
}

// StatusWriter mirrors every published snapshot into the status file.
type StatusWriter struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewStatusWriter creates a writer for path.
func NewStatusWriter(path string, logger *slog.Logger) *StatusWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusWriter{path: path, logger: logger, now: time.Now}
}

// Write stores snap immediately.
func (w *StatusWriter) Write(snap quality.Snapshot) error {
	rec := StatusRecord{
		Snapshot:  snap,
		PID:       os.Getpid(),
		WrittenAt: w.now(),
	}
	if err := writeJSONFile(w.path, &rec); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	return nil
}

// Run writes each snapshot delivered by sub until ctx is done or the
// subscription closes. Write errors are logged and do not stop the loop.
func (w *StatusWriter) Run(ctx context.Context, sub *quality.Subscription) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := w.Write(snap); err != nil {
				w.logger.Warn("status file update failed", "path", w.path, "error", err)
			}
		}
	}
}
