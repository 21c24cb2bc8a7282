// Package corerr is the stable structured-error type shared by every
// component. Codes are the contract (§7 of the specification): once a
// component assigns one, no outer layer may rewrite it.
package corerr

import "fmt"

// Error is a code-carrying error with an optional wrapped cause, matching
// the shape of the teacher's transcribe.PipelineError but generalized to
// any component (Stage is empty outside the pipeline).
type Error struct {
	Code    string
	Stage   string
	Message string
	Err     error
}

// New builds a structured error with no wrapped cause.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a structured error around an underlying cause.
func Wrap(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithStage returns a copy of e annotated with the stage it occurred in.
func (e *Error) WithStage(stage string) *Error {
	if e == nil {
		return nil
	}
	out := *e
	out.Stage = stage
	return &out
}

// Error formats the error for logs, traces, and UI diagnostics.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Stage == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Stage, e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CodeOf extracts the stable code from err if it (or a cause in its chain)
// is a *Error, else returns fallback.
func CodeOf(err error, fallback string) string {
	for err != nil {
		if ce, ok := err.(*Error); ok && ce.Code != "" {
			return ce.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return fallback
}
