package main

import (
	"errors"
	"fmt"
)

// Exit codes.
const (
	exitSuccess      = 0
	exitFailure      = 1 // at least one scenario failed
	exitCommandError = 2 // bad flags or configuration, report not written
)

// exitError carries the process exit code for an error returned by the command.
type exitError struct {
	code    int
	message string
	err     error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.message
}

func (e *exitError) Unwrap() error { return e.err }

func newExitError(code int, message string) *exitError {
	return &exitError{code: code, message: message}
}

func wrapExitError(code int, message string, err error) *exitError {
	return &exitError{code: code, message: message, err: err}
}

// exitCode returns the exit code for an error from the command. Errors that did not come
// from the command itself, such as flag parsing errors, are command errors.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return exitCommandError
}
