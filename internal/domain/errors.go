package domain

import "errors"

var (
	// ErrSecretNotConfigured signals that the server has no shared secret and
	// cannot authorize anything. Not the caller's fault.
	ErrSecretNotConfigured = errors.New("server secret not configured")
	// ErrUnauthorized signals a missing secret in the request.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrBadSecret signals a secret that does not match the configured one.
	ErrBadSecret = errors.New("unauthorized: bad secret")
	// ErrInvalidHTML signals a missing, non-string or too short html field.
	ErrInvalidHTML = errors.New("invalid html payload")
)

// RenderError wraps a failure from the rendering engine (launch, load or print).
type RenderError struct {
	Err  error
	Hint string
}

func (e *RenderError) Error() string {
	if e.Err == nil {
		return "pdf render failed"
	}
	return "pdf render failed: " + e.Err.Error()
}

func (e *RenderError) Unwrap() error { return e.Err }

// Details returns the underlying engine message.
func (e *RenderError) Details() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
