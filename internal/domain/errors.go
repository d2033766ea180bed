package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSpec          = errors.New("invalid spec")
	ErrUnknownNode          = errors.New("unknown node")
	ErrCycleDetected        = errors.New("cycle detected")
	ErrUnboundInput         = errors.New("unbound input")
	ErrCompilation          = errors.New("compilation failed")
	ErrMissingConfiguration = errors.New("missing configuration")
	ErrAuthentication       = errors.New("authentication failed")
	ErrSessionExpired       = errors.New("session expired")
	ErrSubmission           = errors.New("submission failed")
)

// Error classifies a failure by one of the sentinel kinds above.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Errorf builds an *Error of the given kind.
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind error, err error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CycleError names the node that was revisited while still in progress.
type CycleError struct {
	Node string
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("%s at node %q", ErrCycleDetected, e.Node)
	}
	return fmt.Sprintf("%s at node %q: %s", ErrCycleDetected, e.Node, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

type UnboundInputError struct {
	Node  string
	Input string
}

func (e *UnboundInputError) Error() string {
	return fmt.Sprintf("%s: node %q input %q has no literal, default or inbound binding", ErrUnboundInput, e.Node, e.Input)
}

func (e *UnboundInputError) Unwrap() error { return ErrUnboundInput }

// MissingConfigError lists every required configuration key that was absent.
type MissingConfigError struct {
	Keys []string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingConfiguration, strings.Join(e.Keys, ", "))
}

func (e *MissingConfigError) Unwrap() error { return ErrMissingConfiguration }
