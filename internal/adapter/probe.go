package adapter

import (
	"context"
	"errors"
	"fmt"
)

// ProbeRunner runs one discovery probe against a target range and returns
// the raw output of the scanning utility. Implementations are stateless
// and safe to call repeatedly.
type ProbeRunner interface {
	Run(ctx context.Context, target string) ([]byte, error)
}

// ProbeErrorKind classifies a failed probe
type ProbeErrorKind string

const (
	ProbeTimeout         ProbeErrorKind = "timeout"
	ProbeExecutionFailed ProbeErrorKind = "execution_failed"
)

var (
	ErrProbeTimeout   = errors.New("probe timed out")
	ErrProbeExecution = errors.New("probe execution failed")
)

// ProbeError is returned by a ProbeRunner. No output accompanies it.
type ProbeError struct {
	Kind    ProbeErrorKind
	Target  string
	Details string
	Err     error
}

func (e *ProbeError) Error() string {
	msg := fmt.Sprintf("probe %s: %s", e.Target, e.Kind)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause
func (e *ProbeError) Unwrap() []error {
	errs := []error{e.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *ProbeError) sentinel() error {
	if e.Kind == ProbeTimeout {
		return ErrProbeTimeout
	}
	return ErrProbeExecution
}

func timeoutError(target string, err error) *ProbeError {
	return &ProbeError{Kind: ProbeTimeout, Target: target, Err: err}
}

func executionError(target, details string, err error) *ProbeError {
	return &ProbeError{Kind: ProbeExecutionFailed, Target: target, Details: details, Err: err}
}
