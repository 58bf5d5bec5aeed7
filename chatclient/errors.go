package chatclient

import (
	"errors"
	"fmt"
)

// ErrInvalidOperation is returned when an operation is not valid for the
// caller's role or the session's current state (for example sending an empty
// message, or a customer trying to close a conversation).
var ErrInvalidOperation = errors.New("chatclient: invalid operation")

// NetworkError wraps a failed backend call. Status is the HTTP status code
// when the server answered, zero when the request never completed.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("chatclient: %s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("chatclient: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
