package tasks

import (
	"errors"
	"fmt"
)

// ErrDuplicateID is wrapped by the ValidationError returned when a task id
// is already queued or active.
var ErrDuplicateID = errors.New("task_id already queued or active")

// ValidationError rejects a task at submission. It never enters the queue.
type ValidationError struct {
	TaskID string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.TaskID == "" {
		return "invalid task: " + e.Reason
	}
	return fmt.Sprintf("invalid task %s: %s", e.TaskID, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(id, format string, args ...any) error {
	return &ValidationError{TaskID: id, Reason: fmt.Sprintf(format, args...)}
}

// DomainNotAllowedError is the terminal admission failure for a task
// whose target domain is outside a configured allow-list. It is never retried.
type DomainNotAllowedError struct {
	Domain string
	URL    string
}

func (e *DomainNotAllowedError) Error() string {
	return fmt.Sprintf("domain %s is not in allowed domains list", e.Domain)
}
