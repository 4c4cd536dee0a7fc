// Package apperr defines the typed errors raised while loading, building and
// running apps. Every stage wraps its failures in an *Error carrying the Kind
// of the stage so callers can branch with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies where in the app lifecycle an error happened.
type Kind string

const (
	KindLoad       Kind = "load"
	KindValidation Kind = "validation"
	KindBuild      Kind = "build"
	KindConfig     Kind = "config"
	KindProvision  Kind = "provision"
	KindRun        Kind = "run"
	KindOutput     Kind = "output"
	KindCleanup    Kind = "cleanup"
)

// Error implements error so a Kind can be used directly as an errors.Is target.
func (k Kind) Error() string { return string(k) + " error" }

// Specific failures callers may want to tell apart from the rest of their kind.
var (
	ErrEmptyPath      = errors.New("path is empty")
	ErrNoManifest     = errors.New("no manifest found")
	ErrRecipeNotFound = errors.New("recipe not found")
	ErrUnknownWorker  = errors.New("unknown worker type")
	ErrNotSupported   = errors.New("not supported")
	ErrMissingOutput  = errors.New("required output missing")
	ErrProtocol       = errors.New("protocol error")
)

// Error is a lifecycle error tagged with its stage and the app it concerns.
type Error struct {
	Kind Kind
	App  string
	Op   string
	Err  error
}

// E builds an *Error. app may be empty when the app is not yet named.
func E(kind Kind, app, op string, err error) *Error {
	return &Error{Kind: kind, App: app, Op: op, Err: err}
}

// Errorf builds an *Error around a formatted cause.
func Errorf(kind Kind, app, op, format string, args ...any) *Error {
	return E(kind, app, op, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.App != "" {
		prefix = e.App + ": " + prefix
	}
	if e.Op != "" {
		prefix += " " + e.Op
	}
	if e.Err == nil {
		return prefix + " failed"
	}
	return prefix + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare Kind so errors.Is(err, apperr.KindBuild) works.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
