package capture

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInput           Kind = "InputError"
	KindBrowserLaunch   Kind = "BrowserLaunchError"
	KindContextCreation Kind = "ContextCreationError"
	KindNavigation      Kind = "NavigationError"
	KindInstrumentation Kind = "InstrumentationError"
	KindCleanup         Kind = "CleanupError"
	KindInternal        Kind = "InternalError"
)

// Error is the only error type Run returns. Kind is stable and safe to show
// to clients; Err is the underlying cause.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// InputErrorf builds an InputError for callers validating requests before
// they reach the controller.
func InputErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindInput, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, InternalError for anything foreign.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// Describe returns the kind and a client-facing detail for err.
func Describe(err error) (Kind, string) {
	var ce *Error
	if errors.As(err, &ce) {
		detail := ce.Detail
		if ce.Err != nil {
			detail = detail + ": " + ce.Err.Error()
		}
		return ce.Kind, detail
	}
	return KindInternal, err.Error()
}
