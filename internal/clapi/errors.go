package clapi

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when CLAPI does not exit before the invocation timeout
var ErrTimeout = errors.New("clapi invocation timed out")

// UnexpectedResponseError is returned when CLAPI exits with a non-zero code.
//
// Message carries the captured standard output, not standard error. CLAPI
// writes most of its diagnostics to stdout so callers have relied on this,
// but some failures only show up on stderr and end up with an empty
// Message. Stderr is kept alongside for logging.
type UnexpectedResponseError struct {
	Message string
	Code    int
	Stderr  string
}

func (e *UnexpectedResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("clapi exited with code %d", e.Code)
	}
	return fmt.Sprintf("clapi exited with code %d: %s", e.Code, e.Message)
}

// AsUnexpectedResponse unwraps err into an *UnexpectedResponseError
func AsUnexpectedResponse(err error) (*UnexpectedResponseError, bool) {
	var ure *UnexpectedResponseError
	if errors.As(err, &ure) {
		return ure, true
	}
	return nil, false
}
