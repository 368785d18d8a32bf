package motion

import (
	"errors"
	"fmt"
)

// Kind is the category of a motion failure.
type Kind int

const (
	// ValidationFailure means a check-and-lock was rejected before any lock
	// was taken: limits, an existing lock holder or a forbidden zone.
	ValidationFailure Kind = iota + 1
	// ExecutionFailure means a driver error or an unexpected terminal status
	// after the move started.
	ExecutionFailure
	// InterruptedFailure means the waiting execution unit was cancelled.
	InterruptedFailure
	// ConfigurationFailure means a lookup table or zone definition could not
	// be loaded.
	ConfigurationFailure
)

func (k Kind) String() string {
	switch k {
	case ValidationFailure:
		return "validation"
	case ExecutionFailure:
		return "execution"
	case InterruptedFailure:
		return "interrupted"
	case ConfigurationFailure:
		return "configuration"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against any *Error of the same Kind.
var (
	ErrValidation    = errors.New("motion: validation failure")
	ErrExecution     = errors.New("motion: execution failure")
	ErrInterrupted   = errors.New("motion: interrupted")
	ErrConfiguration = errors.New("motion: configuration failure")
)

// Error is the failure type returned by command execution.
type Error struct {
	Kind   Kind
	Axis   string
	Status Status
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failure", e.Kind)
	if e.Axis != "" {
		msg += " on " + e.Axis
	}
	if e.Status != StatusUnknown {
		msg += " [" + e.Status.String() + "]"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the Kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == ValidationFailure
	case ErrExecution:
		return e.Kind == ExecutionFailure
	case ErrInterrupted:
		return e.Kind == InterruptedFailure
	case ErrConfiguration:
		return e.Kind == ConfigurationFailure
	}
	return false
}

func validationError(axis string, s Status) *Error {
	return &Error{Kind: ValidationFailure, Axis: axis, Status: s, Reason: s.Reason()}
}

func executionError(axis string, s Status, msg string, err error) *Error {
	if msg == "" {
		msg = s.Reason()
	}
	return &Error{Kind: ExecutionFailure, Axis: axis, Status: s, Reason: msg, Err: err}
}

func interruptedError(axis string, err error) *Error {
	return &Error{Kind: InterruptedFailure, Axis: axis, Reason: "wait for completion interrupted", Err: err}
}

// Validation builds a ValidationFailure for callers outside this package,
// such as route and soft-limit checks made before any command runs.
func Validation(axis string, s Status, reason string) *Error {
	if reason == "" {
		reason = s.Reason()
	}
	return &Error{Kind: ValidationFailure, Axis: axis, Status: s, Reason: reason}
}

// Configuration wraps a load-time problem as a ConfigurationFailure.
func Configuration(source string, err error) *Error {
	return &Error{Kind: ConfigurationFailure, Reason: source, Err: err}
}

// StatusOf extracts the Status carried by err, if any.
func StatusOf(err error) Status {
	var me *Error
	if errors.As(err, &me) {
		return me.Status
	}
	return StatusUnknown
}
