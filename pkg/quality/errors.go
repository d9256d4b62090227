package quality

import (
	"context"
	"errors"
	"fmt"
)

// ProbeErrorKind classifies why a probe attempt failed.
type ProbeErrorKind int

const (
	ProbeExecutionFailed ProbeErrorKind = iota + 1
	ProbeMalformedOutput
	ProbeTimeout
)

func (k ProbeErrorKind) String() string {
	switch k {
	case ProbeExecutionFailed:
		return "execution_failed"
	case ProbeMalformedOutput:
		return "malformed_output"
	case ProbeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Sentinel errors matched by errors.Is against a *ProbeError of the same kind.
var (
	ErrExecutionFailed = errors.New("probe execution failed")
	ErrMalformedOutput = errors.New("malformed probe output")
	ErrTimeout         = errors.New("probe timed out")
)

// ProbeError is the typed failure of a single probe attempt.
type ProbeError struct {
	Kind ProbeErrorKind
	Err  error
}

func (e *ProbeError) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTimeout) and friends match on the kind.
func (e *ProbeError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k ProbeErrorKind) sentinel() error {
	switch k {
	case ProbeMalformedOutput:
		return ErrMalformedOutput
	case ProbeTimeout:
		return ErrTimeout
	default:
		return ErrExecutionFailed
	}
}

func malformed(format string, args ...any) *ProbeError {
	return &ProbeError{Kind: ProbeMalformedOutput, Err: fmt.Errorf(format, args...)}
}

// ErrorKind returns the kind of a probe error, or 0 when err is nil.
func ErrorKind(err error) ProbeErrorKind {
	if err == nil {
		return 0
	}
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ProbeExecutionFailed
}

// normalizeProbeError makes sure everything leaving a probe attempt is a
// *ProbeError. Deadline errors become timeouts.
func normalizeProbeError(err error) error {
	if err == nil {
		return nil
	}
	var pe *ProbeError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProbeError{Kind: ProbeTimeout, Err: err}
	}
	return &ProbeError{Kind: ProbeExecutionFailed, Err: err}
}
