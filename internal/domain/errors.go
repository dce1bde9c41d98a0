package domain

import (
	"context"
	"errors"
)

// ErrorKind classifies render failures.
type ErrorKind string

const (
	KindStartup     ErrorKind = "startup"
	KindConnection  ErrorKind = "connection"
	KindMeasurement ErrorKind = "measurement"
	KindPrint       ErrorKind = "print"
	KindTimeout     ErrorKind = "timeout"
	KindCanceled    ErrorKind = "canceled"
	KindBusy        ErrorKind = "busy"
	KindValidation  ErrorKind = "validation"
	KindInternal    ErrorKind = "internal"
)

var (
	ErrNoGraphic         = errors.New("no graphic element found")
	ErrDegenerateGraphic = errors.New("graphic element is too small to print")
	ErrConnectionLost    = errors.New("browser connection lost")
	ErrSessionClosed     = errors.New("browser session closed")
	ErrEmptyPDF          = errors.New("browser returned an empty PDF")
	ErrBusy              = errors.New("render capacity exhausted")
)

// RenderError wraps a failure with its kind and the pipeline step it came from.
type RenderError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *RenderError) Error() string {
	msg := string(e.Kind) + " failed"
	if e.Kind == KindMeasurement {
		msg = "measurement failed"
	}
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	if e.Err == nil {
		return msg
	}
	return msg + ": " + e.Err.Error()
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// NewError creates a RenderError.
func NewError(kind ErrorKind, op string, err error) *RenderError {
	return &RenderError{Kind: kind, Op: op, Err: err}
}

// KindOf maps err to its kind. Context errors are recognised even when
// unwrapped; anything else unknown is internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var re *RenderError
	if errors.As(err, &re) {
		return re.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrConnectionLost), errors.Is(err, ErrSessionClosed):
		return KindConnection
	case errors.Is(err, ErrNoGraphic), errors.Is(err, ErrDegenerateGraphic):
		return KindMeasurement
	case errors.Is(err, ErrBusy):
		return KindBusy
	}
	return KindInternal
}
