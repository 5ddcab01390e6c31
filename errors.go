package interject

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that a record or range does not exist. Callers treat
// it as an ordinary condition, not a failure.
var ErrNotFound = errors.New("not found")

// ErrClosed reports that a component has shut down. Requests still queued
// when the LLM client closes resolve with this error.
var ErrClosed = errors.New("closed")

// ErrHTTP is a non-2xx response from an upstream service.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrDims reports an embedding vector of unexpected dimensionality.
type ErrDims struct {
	Want int
	Got  int
}

func (e *ErrDims) Error() string {
	return fmt.Sprintf("embedding has %d dimensions, want %d", e.Got, e.Want)
}
