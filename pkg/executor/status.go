package executor

import (
	"fmt"

	"github.com/kru5ty7/browser-agent-project/pkg/worker"
)

// State is the executor lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time snapshot of the executor. It shares no
// memory with the executor.
type Status struct {
	State     State          `json:"state"`
	Running   bool           `json:"running"`
	Active    int            `json:"active_tasks"`
	Completed int            `json:"completed_tasks"`
	QueueSize int            `json:"queue_size"`
	Queued    map[string]int `json:"queued_by_priority"`
	Workers   []worker.Info  `json:"workers"`
}

// FreeWorkers counts workers not bound to a task.
func (s Status) FreeWorkers() int {
	free := 0
	for _, w := range s.Workers {
		if !w.Busy {
			free++
		}
	}
	return free
}

// Status returns a snapshot of the executor.
func (e *Executor) Status() Status {
	e.mu.Lock()
	st := Status{
		State:     e.state,
		Running:   e.state == StateRunning,
		Active:    len(e.active),
		Completed: e.completed,
	}
	e.mu.Unlock()

	depths := e.queue.Depths()
	st.Queued = make(map[string]int, len(depths))
	for p, n := range depths {
		st.Queued[p.String()] = n
		st.QueueSize += n
	}
	st.Workers = e.pool.Snapshot()
	return st
}

// Idle reports whether nothing is queued or active.
func (e *Executor) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active) == 0 && e.queue.Size() == 0
}
