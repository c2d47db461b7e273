package daemon

import "fmt"

const (
	// ExitFailure is the exit code reported when an application fails unexpectedly.
	ExitFailure = 1
	// ExitCommandNotFound is the exit code reported for a program that is not registered.
	ExitCommandNotFound = 127
)

// DispatchError is an unknown program name. It is reported to the caller as a failed
// command; the response envelope is still completed.
type DispatchError struct {
	Program string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: command not found", e.Program)
}

// ApplicationError is an application that returned an error or panicked.
type ApplicationError struct {
	Program string
	Err     error
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Program, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
