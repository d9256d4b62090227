package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Prober runs one measurement. Implementations block until the measurement
// finishes or ctx is done, and report failures as *ProbeError.
type Prober interface {
	Probe(ctx context.Context) (SpeedSample, error)
}

// ProberFunc adapts a plain function to the Prober interface.
type ProberFunc func(ctx context.Context) (SpeedSample, error)

// Probe calls f(ctx).
func (f ProberFunc) Probe(ctx context.Context) (SpeedSample, error) { return f(ctx) }

// Defaults for the external measurement command.
const (
	DefaultCommand      = "/usr/bin/networkQuality"
	DefaultProbeTimeout = 30 * time.Second
)

// DefaultArgs requests machine-readable output from networkQuality.
var DefaultArgs = []string{"-c"}

// Keys read from the tool's JSON output.
const (
	KeyPing     = "responsiveness"
	KeyUpload   = "ul_throughput"
	KeyDownload = "dl_throughput"
)

// ThroughputUnit names the unit of the tool's throughput fields.
type ThroughputUnit string

const (
	// UnitBytes treats throughput values as bytes per second.
	UnitBytes ThroughputUnit = "bytes"
	// UnitBits treats throughput values as bits per second; they are divided
	// by 8 before being stored.
	UnitBits ThroughputUnit = "bits"
)

// Valid reports whether u is a supported unit. The empty string counts as
// UnitBytes.
func (u ThroughputUnit) Valid() bool {
	return u == "" || u == UnitBytes || u == UnitBits
}

// CommandConfig configures a CommandProber.
type CommandConfig struct {
	Command string
	Args    []string
	Unit    ThroughputUnit
}

// CommandProber runs the external measurement tool and parses its output.
type CommandProber struct {
	cfg    CommandConfig
	logger *slog.Logger
}

// probeJSON keeps numbers as json.Number so integers are not rounded
// through float64.
var probeJSON = sonic.Config{UseNumber: true}.Froze()

// NewCommandProber creates a prober. Empty fields fall back to
// DefaultCommand, DefaultArgs and UnitBytes.
func NewCommandProber(cfg CommandConfig, logger *slog.Logger) *CommandProber {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
		if cfg.Args == nil {
			cfg.Args = DefaultArgs
		}
	}
	if cfg.Unit == "" {
		cfg.Unit = UnitBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandProber{cfg: cfg, logger: logger}
}

// Probe runs the command once. A deadline on ctx kills the process and is
// reported as ErrTimeout.
func (p *CommandProber) Probe(ctx context.Context) (SpeedSample, error) {
	cmd := exec.CommandContext(ctx, p.cfg.Command, p.cfg.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	p.logger.Debug("measurement command finished",
		"command", p.cfg.Command,
		"elapsed", time.Since(start),
		"stdout_bytes", stdout.Len(),
	)

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return SpeedSample{}, &ProbeError{Kind: ProbeTimeout, Err: ctxErr}
		}
		return SpeedSample{}, &ProbeError{Kind: ProbeExecutionFailed, Err: ctxErr}
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%s: %w: %s", p.cfg.Command, err, msg)
		} else {
			err = fmt.Errorf("%s: %w", p.cfg.Command, err)
		}
		return SpeedSample{}, &ProbeError{Kind: ProbeExecutionFailed, Err: err}
	}

	return ParseOutput(stdout.Bytes(), p.cfg.Unit)
}

// ParseOutput decodes the tool's flat JSON object and extracts the ping,
// upload and download fields. Missing, non-numeric or negative values are
// reported as ErrMalformedOutput.
func ParseOutput(data []byte, unit ThroughputUnit) (SpeedSample, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return SpeedSample{}, malformed("empty output")
	}

	var fields map[string]interface{}
	if err := probeJSON.Unmarshal(data, &fields); err != nil {
		return SpeedSample{}, malformed("decode output: %v", err)
	}
	if fields == nil {
		return SpeedSample{}, malformed("output is not a JSON object")
	}

	ping, err := numericField(fields, KeyPing)
	if err != nil {
		return SpeedSample{}, err
	}
	up, err := numericField(fields, KeyUpload)
	if err != nil {
		return SpeedSample{}, err
	}
	down, err := numericField(fields, KeyDownload)
	if err != nil {
		return SpeedSample{}, err
	}

	if unit == UnitBits {
		up /= 8
		down /= 8
	}
	return NewSpeedSample(ping, up, down), nil
}

func numericField(fields map[string]interface{}, key string) (int64, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return 0, malformed("missing field %q", key)
	}

	var f float64
	switch v := raw.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			if n < 0 {
				return 0, malformed("field %q is negative: %d", key, n)
			}
			return n, nil
		}
		parsed, err := v.Float64()
		if err != nil {
			return 0, malformed("field %q is not numeric: %q", key, v.String())
		}
		f = parsed
	case float64:
		f = v
	default:
		return 0, malformed("field %q is not numeric: %v", key, raw)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 {
		return 0, malformed("field %q is out of range: %v", key, f)
	}
	if f < 0 {
		return 0, malformed("field %q is negative: %v", key, f)
	}
	return int64(f), nil
}
