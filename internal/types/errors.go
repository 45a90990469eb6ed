// Package types provides shared types and errors for the application.
package types

import "errors"

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Extension errors
	ErrExtensionMissing = errors.New("proxy extension archive not found")
	ErrExtensionInvalid = errors.New("proxy extension archive is invalid")

	// Settings errors
	ErrSettingsCorrupt = errors.New("stored proxy settings are unreadable")

	// Cookie errors
	ErrInvalidCookieName = errors.New("invalid cookie file name")
	ErrNoCookieJars      = errors.New("no cookie files found")

	// Browser errors
	ErrBrowserLaunch  = errors.New("failed to launch browser")
	ErrBrowserConnect = errors.New("failed to connect to browser")
	ErrPageNotReady   = errors.New("browser page is not ready")

	// Operator errors
	ErrOperatorAborted = errors.New("operator aborted the session")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Exit statuses returned by the command line entry point.
const (
	ExitOK     = 0
	ExitFatal  = 1
	ExitConfig = 2
)

// StepError records which orchestrator step failed.
// It implements the error interface and supports error unwrapping.
type StepError struct {
	Step string // Step name, e.g. "extension", "launch"
	Err  error  // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Err == nil {
		return e.Step + " failed"
	}
	return e.Step + ": " + e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError wraps err with the name of the step that produced it.
func NewStepError(step string, err error) *StepError {
	return &StepError{Step: step, Err: err}
}

// ExitCode maps an error returned by a command to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrInvalidCookieName):
		return ExitConfig
	case errors.Is(err, ErrOperatorAborted):
		// Ctrl+C during the wait is a normal way to end a session.
		return ExitOK
	default:
		return ExitFatal
	}
}
