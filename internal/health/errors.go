package health

import "fmt"

// UnprocessableItemError marks an event that can never succeed, such as one without a
// user identifier. The processor dead-letters it without retrying.
type UnprocessableItemError struct {
	Reason string
}

func (e *UnprocessableItemError) Error() string {
	return fmt.Sprintf("unprocessable item: %s", e.Reason)
}

// Permanent tells the processor not to retry.
func (e *UnprocessableItemError) Permanent() bool { return true }

// TransientError wraps a failure that may succeed on a later attempt.
type TransientError struct {
	Op    string
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }
