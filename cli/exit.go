package cli

import (
	"errors"
	"fmt"
)

// Process exit codes.
const (
	exitSuccess       = 0
	exitValidation    = 1 // validation errors, unknown node or category, missing run
	exitRunFailed     = 2 // aborted run or failed step
	exitUnreadable    = 3
	exitInputParse    = 4
	exitInvalidFormat = 6
)

// ExitError carries the process exit code a command wants main to use.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// ExitCode maps an Execute error to a process exit code. Errors that carry
// no code, such as cobra's own flag errors, exit with 1.
func ExitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
