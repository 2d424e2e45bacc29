// Package errdefs defines the error kinds a my-spaces invocation can fail
// with, and the process exit code each kind maps to.
//
// Every fatal error is terminal for the current invocation. Nothing is
// retried; the CLI reports the error with its phase and identifier and exits
// non-zero.
//
// Checking errors:
//
//	if errors.Is(err, errdefs.ErrMissingCredential) { ... }
//
//	var e *errdefs.Error
//	if errors.As(err, &e) { log(e.Phase, e.Identifier) }
package errdefs

import (
	"errors"
	"fmt"
)

// Sentinel kinds.
var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrMissingCredential = errors.New("missing credential")
	ErrBuild             = errors.New("build failed")
	ErrEngineUnavailable = errors.New("container engine unavailable")
	ErrTemplate          = errors.New("template error")
	ErrPermission        = errors.New("permission denied")
)

// Phases of a run, used as error context.
const (
	PhaseResolve = "resolve"
	PhaseRender  = "render"
	PhaseBuild   = "build"
	PhasePull    = "pull"
	PhaseStart   = "start"
	PhaseLogs    = "logs"
	PhaseStop    = "stop"
	PhaseList    = "list"
	PhaseSetup   = "setup"
)

// Error attaches a kind, the phase it happened in and the source identifier
// to an underlying cause. errors.Is matches both the kind and the cause.
type Error struct {
	Kind       error
	Phase      string
	Identifier string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Phase != "" {
		msg = e.Phase + ": " + msg
	}
	if e.Identifier != "" {
		msg += fmt.Sprintf(" (identifier %q)", e.Identifier)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New wraps err with a kind and phase.
func New(kind error, phase string, err error) *Error {
	return &Error{Kind: kind, Phase: phase, Err: err}
}

// WithIdentifier sets the identifier if it is not set yet and returns e.
func (e *Error) WithIdentifier(identifier string) *Error {
	if e.Identifier == "" {
		e.Identifier = identifier
	}
	return e
}

// Annotate attaches identifier context to err. When err already is an *Error
// its identifier is filled in; otherwise err is returned unchanged.
func Annotate(err error, identifier string) error {
	var e *Error
	if errors.As(err, &e) {
		e.WithIdentifier(identifier)
	}
	return err
}

// Exit codes. Zero is success, including a graceful stop on interrupt.
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitInvalidIdentifier = 2
	ExitMissingCredential = 3
	ExitBuild             = 4
	ExitEngineUnavailable = 5
	ExitTemplate          = 6
	ExitPermission        = 7
)

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInvalidIdentifier):
		return ExitInvalidIdentifier
	case errors.Is(err, ErrMissingCredential):
		return ExitMissingCredential
	case errors.Is(err, ErrBuild):
		return ExitBuild
	case errors.Is(err, ErrEngineUnavailable):
		return ExitEngineUnavailable
	case errors.Is(err, ErrTemplate):
		return ExitTemplate
	case errors.Is(err, ErrPermission):
		return ExitPermission
	default:
		return ExitFailure
	}
}
