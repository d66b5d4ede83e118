// Package tasks defines the core data structures for task representation:
// the Task capability the executor schedules, the Result record it
// produces, and the concrete web automation kinds.
//
// The executor depends only on the Task interface. Concrete kinds embed
// *Base for the shared descriptor (id, priority, timeout, metadata,
// status) and implement Validate and Execute.
package tasks

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/kru5ty7/browser-agent-project/pkg/session"
)

// Task is a unit of work with a priority, a validation rule and an
// execution capability bound to a worker's session.
type Task interface {
	ID() string
	Kind() string
	Priority() Priority
	CreatedAt() time.Time

	// Status and SetStatus are safe for concurrent use. The executor owns
	// status mutation once the task is submitted.
	Status() Status
	SetStatus(Status)

	Validate() error
	Execute(ctx context.Context, s session.Session) Outcome
}

// Targeted is implemented by tasks that visit URLs. The executor checks
// every target against the domain allow-list before dispatch.
type Targeted interface {
	TargetURLs() []string
}

// Timed is implemented by tasks with a per-task execution deadline.
// A zero timeout means none.
type Timed interface {
	Timeout() time.Duration
}

// Outcome is the value one execution attempt returns. A nil Err means
// success. An Err marked retryable (see retry.Transient) is retried by
// the executor; any other Err is terminal.
type Outcome struct {
	Data     any
	Metadata map[string]any
	Err      error
}

// Succeeded builds a successful Outcome.
func Succeeded(data any, metadata map[string]any) Outcome {
	return Outcome{Data: data, Metadata: metadata}
}

// Failed builds a failed Outcome.
func Failed(err error) Outcome {
	return Outcome{Err: err}
}

// Options carry the descriptor fields shared by every kind.
type Options struct {
	Description string
	Priority    Priority
	Timeout     time.Duration
	Metadata    map[string]any
}

// Base is the shared task descriptor. Embed it by pointer.
type Base struct {
	id          string
	kind        string
	description string
	priority    Priority
	timeout     time.Duration
	metadata    map[string]any
	createdAt   time.Time

	mu     sync.RWMutex
	status Status
}

// NewBase returns a pending descriptor. A zero priority becomes Medium.
func NewBase(id, kind string, opts Options) *Base {
	if opts.Priority == 0 {
		opts.Priority = Medium
	}
	md := make(map[string]any, len(opts.Metadata))
	maps.Copy(md, opts.Metadata)
	return &Base{
		id:          id,
		kind:        kind,
		description: opts.Description,
		priority:    opts.Priority,
		timeout:     opts.Timeout,
		metadata:    md,
		createdAt:   time.Now().UTC(),
		status:      StatusPending,
	}
}

func (b *Base) ID() string { return b.id }
func (b *Base) Kind() string { return b.kind }
func (b *Base) Description() string { return b.description }
func (b *Base) Priority() Priority { return b.priority }
func (b *Base) Timeout() time.Duration { return b.timeout }
func (b *Base) CreatedAt() time.Time { return b.createdAt }

// Metadata returns a copy of the task metadata.
func (b *Base) Metadata() map[string]any {
	return maps.Clone(b.metadata)
}

func (b *Base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *Base) SetStatus(s Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

func (b *Base) String() string {
	return fmt.Sprintf("%s(id=%s, status=%s)", b.kind, b.id, b.Status())
}
