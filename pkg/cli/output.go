package cli

import (
	"errors"
	"fmt"

	"dev/bravebird/ipview-verify/pkg/config"
	"dev/bravebird/ipview-verify/pkg/verify"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Every phase passed
	ExitFailure      = 1 // The page failed an assertion (settle, structure or toggle)
	ExitCommandError = 2 // Bad config, browser bootstrap failure or harness error
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitCommandError for errors that carry no
// code, such as flag parsing errors reported by cobra.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// ExitCodeFor maps a run or config error to its exit code.
func ExitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case config.IsValidationError(err):
		return ExitCommandError
	case verify.KindOf(err).Assertion():
		return ExitFailure
	default:
		return ExitCommandError
	}
}
