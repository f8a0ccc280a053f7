// Package failure classifies pipeline errors so callers can tell a bad
// request from a budget overrun, an I/O problem or a canceled job.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the outcome class of a failed extraction.
type Kind int

const (
	// Processing covers transform lookup, reader I/O and encoder failures.
	Processing Kind = iota
	// Validation covers malformed input: bad ROI, missing CRS, unknown band.
	Validation
	// LimitExceeded is raised by the cost estimators and the bounded sink.
	LimitExceeded
	// Canceled marks a job stopped by its listener or context.
	Canceled
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case LimitExceeded:
		return "limit-exceeded"
	case Canceled:
		return "canceled"
	default:
		return "processing"
	}
}

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrValidation    = errors.New("validation failed")
	ErrLimitExceeded = errors.New("limit exceeded")
	ErrProcessing    = errors.New("processing failed")
	ErrCanceled      = errors.New("canceled")
)

func (k Kind) sentinel() error {
	switch k {
	case Validation:
		return ErrValidation
	case LimitExceeded:
		return ErrLimitExceeded
	case Canceled:
		return ErrCanceled
	default:
		return ErrProcessing
	}
}

// Error is a classified failure with enough context to diagnose it.
type Error struct {
	Kind  Kind
	Layer string
	Stage string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Layer != "" {
		msg += " [" + e.Layer + "]"
	}
	if e.Stage != "" {
		msg += " " + e.Stage
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// New wraps err with a kind and a stage. A nil err yields the kind's sentinel
// as cause so the message stays meaningful.
func New(kind Kind, stage string, err error) *Error {
	if err == nil {
		err = kind.sentinel()
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Validationf builds a validation failure from a format string.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: Validation, Err: fmt.Errorf(format, args...)}
}

// Limitf builds a limit-exceeded failure from a format string.
func Limitf(format string, args ...any) *Error {
	return &Error{Kind: LimitExceeded, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err as kind at stage unless it already carries a kind, in
// which case only missing layer/stage context is filled in.
func Wrap(err error, kind Kind, layer, stage string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Layer == "" {
			fe.Layer = layer
		}
		if fe.Stage == "" {
			fe.Stage = stage
		}
		return fe
	}
	return &Error{Kind: kind, Layer: layer, Stage: stage, Err: err}
}

// KindOf reports the kind of err. Unclassified errors are Processing.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Processing
}

// IsCanceled reports whether err is a cancellation outcome.
func IsCanceled(err error) bool { return errors.Is(err, ErrCanceled) }
