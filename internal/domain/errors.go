package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors. Match with errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrAdapterTimeout   = errors.New("adapter timed out")
	ErrAdapterFailure   = errors.New("adapter failed")
	ErrInsufficientData = errors.New("insufficient data: no adapter produced a result")
	ErrConfiguration    = errors.New("invalid configuration")
	ErrExplanation      = errors.New("explanation failed")
	ErrAuditWrite       = errors.New("audit write failed")
	ErrNotification     = errors.New("notification failed")
	ErrNotFound         = errors.New("not found")
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeAdapterTimeout   Code = "ADAPTER_TIMEOUT"
	CodeAdapterFailure   Code = "ADAPTER_FAILURE"
	CodeInsufficientData Code = "INSUFFICIENT_DATA"
	CodeConfiguration    Code = "CONFIGURATION"
	CodeExplanation      Code = "EXPLANATION_FAILURE"
	CodeAuditWrite       Code = "AUDIT_WRITE_FAILURE"
	CodeNotification     Code = "NOTIFICATION_FAILURE"
	CodeNotFound         Code = "NOT_FOUND"
	CodeCanceled         Code = "CANCELED"
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrInvalidInput, CodeInvalidInput},
	{ErrAdapterTimeout, CodeAdapterTimeout},
	{ErrAdapterFailure, CodeAdapterFailure},
	{ErrInsufficientData, CodeInsufficientData},
	{ErrConfiguration, CodeConfiguration},
	{ErrExplanation, CodeExplanation},
	{ErrAuditWrite, CodeAuditWrite},
	{ErrNotification, CodeNotification},
	{ErrNotFound, CodeNotFound},
}

// CodeOf returns the code of the first sentinel found in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var runErr *RunError
	if errors.As(err, &runErr) && runErr.Code != "" {
		return runErr.Code
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCanceled
	}
	return CodeUnknown
}

// RunError is returned when a run aborts. It records where it stopped.
type RunError struct {
	Code  Code
	Phase Phase
	TxID  string
	Err   error
}

func (e *RunError) Error() string {
	if e.TxID == "" {
		return fmt.Sprintf("%s phase: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("%s phase (tx %s): %v", e.Phase, e.TxID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// NewRunError wraps err with the phase it aborted in.
func NewRunError(phase Phase, txID string, err error) *RunError {
	re := &RunError{Phase: phase, TxID: txID, Err: err}
	re.Code = CodeOf(err)
	return re
}

// InvalidInputf builds an error wrapping ErrInvalidInput.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Configurationf builds an error wrapping ErrConfiguration.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
