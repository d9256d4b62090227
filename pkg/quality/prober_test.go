package quality

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"
)

// TestHelperProcess is not a real test. CommandProber tests re-exec the test
// binary with this test selected to stand in for the measurement tool.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("NETPULSE_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("NETPULSE_HELPER_MODE") {
	case "ok":
		fmt.Fprint(os.Stdout, `{"responsiveness": 10, "ul_throughput": 2000000, "dl_throughput": 5000000, "other": "x"}`)
		os.Exit(0)
	case "garbage":
		fmt.Fprint(os.Stdout, "not json at all")
		os.Exit(0)
	case "fail":
		fmt.Fprint(os.Stderr, "no network interface")
		os.Exit(3)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(2)
}

func helperProber(t *testing.T, mode string) *CommandProber {
	t.Helper()
	t.Setenv("NETPULSE_HELPER_PROCESS", "1")
	t.Setenv("NETPULSE_HELPER_MODE", mode)
	return NewCommandProber(CommandConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=^TestHelperProcess$"},
	}, discardLogger())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCommandProberSuccess(t *testing.T) {
	p := helperProber(t, "ok")
	got, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	want := NewSpeedSample(10, 2_000_000, 5_000_000)
	if got != want {
		t.Errorf("Probe = %+v, want %+v", got, want)
	}
}

func TestCommandProberMalformed(t *testing.T) {
	p := helperProber(t, "garbage")
	_, err := p.Probe(context.Background())
	if !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("err = %v, want ErrMalformedOutput", err)
	}
}

func TestCommandProberExecutionFailed(t *testing.T) {
	p := helperProber(t, "fail")
	_, err := p.Probe(context.Background())
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("err = %v, want ErrExecutionFailed", err)
	}
	if ErrorKind(err) != ProbeExecutionFailed {
		t.Errorf("ErrorKind = %v, want %v", ErrorKind(err), ProbeExecutionFailed)
	}
}

func TestCommandProberMissingBinary(t *testing.T) {
	p := NewCommandProber(CommandConfig{Command: "/nonexistent/netpulse-probe"}, discardLogger())
	_, err := p.Probe(context.Background())
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("err = %v, want ErrExecutionFailed", err)
	}
}

func TestCommandProberTimeout(t *testing.T) {
	p := helperProber(t, "hang")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Probe(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Probe took %v after timeout", elapsed)
	}
}

func TestNewCommandProberDefaults(t *testing.T) {
	p := NewCommandProber(CommandConfig{}, nil)
	if p.cfg.Command != DefaultCommand {
		t.Errorf("Command = %q, want %q", p.cfg.Command, DefaultCommand)
	}
	if len(p.cfg.Args) != 1 || p.cfg.Args[0] != "-c" {
		t.Errorf("Args = %v, want [-c]", p.cfg.Args)
	}
	if p.cfg.Unit != UnitBytes {
		t.Errorf("Unit = %q, want %q", p.cfg.Unit, UnitBytes)
	}
}

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		unit    ThroughputUnit
		want    SpeedSample
		wantErr bool
	}{
		{
			name: "integers",
			in:   `{"responsiveness":10,"ul_throughput":2000000,"dl_throughput":5000000}`,
			want: NewSpeedSample(10, 2_000_000, 5_000_000),
		},
		{
			name: "floats truncate",
			in:   `{"responsiveness":12.7,"ul_throughput":1024.9,"dl_throughput":2048.0}`,
			want: NewSpeedSample(12, 1024, 2048),
		},
		{
			name: "extra keys ignored",
			in:   `{"responsiveness":1,"ul_throughput":2,"dl_throughput":3,"interface_name":"en0","base_rtt":9.5}`,
			want: NewSpeedSample(1, 2, 3),
		},
		{
			name: "bits divided by eight",
			in:   `{"responsiveness":10,"ul_throughput":16000000,"dl_throughput":40000000}`,
			unit: UnitBits,
			want: NewSpeedSample(10, 2_000_000, 5_000_000),
		},
		{
			name: "surrounding whitespace",
			in:   "\n  {\"responsiveness\":0,\"ul_throughput\":0,\"dl_throughput\":0}\n",
			want: NewSpeedSample(0, 0, 0),
		},
		{name: "empty", in: "", wantErr: true},
		{name: "not json", in: "Uplink capacity: 12 Mbps", wantErr: true},
		{name: "null", in: "null", wantErr: true},
		{name: "array", in: "[1,2,3]", wantErr: true},
		{name: "missing ping", in: `{"ul_throughput":1,"dl_throughput":2}`, wantErr: true},
		{name: "missing upload", in: `{"responsiveness":1,"dl_throughput":2}`, wantErr: true},
		{name: "missing download", in: `{"responsiveness":1,"ul_throughput":2}`, wantErr: true},
		{name: "null field", in: `{"responsiveness":null,"ul_throughput":1,"dl_throughput":2}`, wantErr: true},
		{name: "string field", in: `{"responsiveness":"10","ul_throughput":1,"dl_throughput":2}`, wantErr: true},
		{name: "negative", in: `{"responsiveness":10,"ul_throughput":-1,"dl_throughput":2}`, wantErr: true},
		{name: "negative float", in: `{"responsiveness":-0.5,"ul_throughput":1,"dl_throughput":2}`, wantErr: true},
		{name: "huge", in: `{"responsiveness":1e300,"ul_throughput":1,"dl_throughput":2}`, wantErr: true},
		{name: "two to the 63", in: `{"responsiveness":1,"ul_throughput":9223372036854775808,"dl_throughput":1}`, wantErr: true},
		{name: "two to the 63 as float", in: `{"responsiveness":1,"ul_throughput":1,"dl_throughput":9.223372036854775808e18}`, wantErr: true},
		{
			name: "largest int64",
			in:   `{"responsiveness":1,"ul_throughput":9223372036854775807,"dl_throughput":1}`,
			want: NewSpeedSample(1, math.MaxInt64, 1),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOutput([]byte(tt.in), tt.unit)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				if !errors.Is(err, ErrMalformedOutput) {
					t.Errorf("err = %v, want ErrMalformedOutput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOutput failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseOutput = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestProbeErrorIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &ProbeError{Kind: ProbeTimeout, Err: context.DeadlineExceeded})
	if !errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(err, ErrTimeout) = false")
	}
	if errors.Is(err, ErrExecutionFailed) {
		t.Error("timeout error should not match ErrExecutionFailed")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("ProbeError should unwrap to its cause")
	}
	if ErrorKind(err) != ProbeTimeout {
		t.Errorf("ErrorKind = %v, want %v", ErrorKind(err), ProbeTimeout)
	}
}

func TestNormalizeProbeError(t *testing.T) {
	if normalizeProbeError(nil) != nil {
		t.Error("nil should stay nil")
	}

	err := normalizeProbeError(fmt.Errorf("run: %w", context.DeadlineExceeded))
	if ErrorKind(err) != ProbeTimeout {
		t.Errorf("deadline kind = %v, want %v", ErrorKind(err), ProbeTimeout)
	}

	err = normalizeProbeError(errors.New("boom"))
	if ErrorKind(err) != ProbeExecutionFailed {
		t.Errorf("plain kind = %v, want %v", ErrorKind(err), ProbeExecutionFailed)
	}

	orig := malformed("bad %s", "json")
	if got := normalizeProbeError(orig); got != error(orig) {
		t.Errorf("ProbeError should pass through unchanged, got %v", got)
	}
}
