package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBinding is matched by every graph compilation failure.
	ErrBinding = errors.New("binding error")

	ErrUnresolvedBinding = errors.New("unresolved binding")
	ErrBindingCycle      = errors.New("binding cycle")
	ErrInvalidBinding    = errors.New("invalid binding")

	// ErrWorkCallback is matched by node failures reported by the work callback.
	ErrWorkCallback = errors.New("work callback failed")

	// ErrSchedulingInvariant means the executor observed a state the graph
	// compiler should have made impossible.
	ErrSchedulingInvariant = errors.New("scheduling invariant violated")
)

// BindingError wraps deterministic graph compilation failures.
type BindingError struct {
	Kind error
	Msg  string
}

func (e *BindingError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *BindingError) Unwrap() []error { return []error{ErrBinding, e.Kind} }

func invalidf(format string, args ...any) error {
	return &BindingError{Kind: ErrInvalidBinding, Msg: fmt.Sprintf(format, args...)}
}

func unresolvedf(format string, args ...any) error {
	return &BindingError{Kind: ErrUnresolvedBinding, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &BindingError{Kind: ErrBindingCycle, Msg: msg}
}

// WorkCallbackError reports a node whose work callback failed. ExitCode is
// the reported status; Err is set when the callback could not run at all.
type WorkCallbackError struct {
	Node     string
	ExitCode int
	Err      error
}

func (e *WorkCallbackError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Node, ErrWorkCallback, e.Err)
	}
	return fmt.Sprintf("%s: %s with exit code %d", e.Node, ErrWorkCallback, e.ExitCode)
}

func (e *WorkCallbackError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrWorkCallback, e.Err}
	}
	return []error{ErrWorkCallback}
}

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSchedulingInvariant, fmt.Sprintf(format, args...))
}
