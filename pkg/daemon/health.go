package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gitlab.com/tinyland/lab/netpulse/pkg/quality"
)

// HealthStatus is the HEALTH response.
type HealthStatus struct {
	PID         int                       `json:"pid"`
	Version     string                    `json:"version,omitempty"`
	StartedAt   time.Time                 `json:"started_at"`
	Uptime      string                    `json:"uptime"`
	State       quality.ConnectivityState `json:"state"`
	Display     string                    `json:"display"`
	Probing     bool                      `json:"probing"`
	LastProbeAt time.Time                 `json:"last_probe_at,omitempty"`
	LastError   string                    `json:"last_error,omitempty"`
	Triggers    int64                     `json:"triggers"`
	Coalesced   int64                     `json:"coalesced"`
	Runs        int64                     `json:"runs"`
	Failures    int64                     `json:"failures"`
	Stale       int64                     `json:"stale"`
	Subscribers int                       `json:"subscribers"`
}

// writeJSONFile writes v as indented JSON to path. The write is atomic:
// content goes to a temporary file first, then is renamed into place to
// prevent partial reads.
func writeJSONFile(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}

	return nil
}

// toJSON serializes v to an indented JSON string.
func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal response: %w", err)
	}
	return string(data), nil
}
