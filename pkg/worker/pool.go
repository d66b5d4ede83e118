// Package worker manages the fixed set of workers an executor dispatches
// onto. Each worker owns one automation session for its whole life.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kru5ty7/browser-agent-project/pkg/logger"
	"github.com/kru5ty7/browser-agent-project/pkg/session"
)

// FatalInitializationError is returned by Initialize when a worker's
// session fails to start. The pool is left empty.
type FatalInitializationError struct {
	Worker string
	Err    error
}

func (e *FatalInitializationError) Error() string {
	return fmt.Sprintf("worker %s failed to initialize: %v", e.Worker, e.Err)
}

func (e *FatalInitializationError) Unwrap() error { return e.Err }

// Worker binds one session to at most one task at a time.
type Worker struct {
	ID   int
	Name string

	session      session.Session
	busy         bool
	lastReleased time.Time
	tasksRun     int
}

// Session is the automation session the worker wraps.
func (w *Worker) Session() session.Session { return w.session }

// Info is a point-in-time copy of a worker's state.
type Info struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Busy         bool      `json:"busy"`
	TasksRun     int       `json:"tasks_run"`
	LastReleased time.Time `json:"last_released,omitempty"`
}

// Pool hands out free workers round-robin. Acquire and Release serialize
// on the pool mutex, so a worker is never bound to two tasks.
type Pool struct {
	size    int
	factory session.Factory

	mu      sync.Mutex
	workers []*Worker
	next    int
}

// NewPool returns an uninitialized pool of size workers whose sessions
// are built by factory. Sizes below 1 are raised to 1.
func NewPool(size int, factory session.Factory) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size, factory: factory}
}

// Size is the configured number of workers.
func (p *Pool) Size() int { return p.size }

// Initialize creates and starts every worker. If any session fails to
// start, the sessions already started are cleaned up and a
// *FatalInitializationError is returned.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) > 0 {
		return errors.New("worker pool already initialized")
	}

	started := make([]*Worker, 0, p.size)
	for i := 0; i < p.size; i++ {
		name := fmt.Sprintf("worker-%d", i)
		w := &Worker{ID: i, Name: name, session: p.factory(name)}
		if err := w.session.Initialize(ctx); err != nil {
			logger.Log.Error().Err(err).Str("worker", name).Msg("Worker initialization failed")
			for _, s := range started {
				if cerr := s.session.Cleanup(ctx); cerr != nil {
					logger.Log.Warn().Err(cerr).Str("worker", s.Name).Msg("Cleanup after failed start-up")
				}
			}
			return &FatalInitializationError{Worker: name, Err: err}
		}
		logger.Log.Debug().Str("worker", name).Msg("Worker initialized")
		started = append(started, w)
	}

	p.workers = started
	p.next = 0
	logger.Log.Info().Int("size", p.size).Msg("Worker pool initialized")
	return nil
}

// Acquire marks the next free worker busy, scanning round-robin from the
// one after the last acquired. ok is false when every worker is busy.
func (p *Pool) Acquire() (w *Worker, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.workers)
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		if cand := p.workers[idx]; !cand.busy {
			cand.busy = true
			p.next = (idx + 1) % n
			return cand, true
		}
	}
	return nil, false
}

// Release marks w free again.
func (p *Pool) Release(w *Worker) {
	p.mu.Lock()
	w.busy = false
	w.tasksRun++
	w.lastReleased = time.Now()
	p.mu.Unlock()
}

// Putback frees a worker that was acquired but never bound to a task.
// Unlike Release it does not count as a completed run.
func (p *Pool) Putback(w *Worker) {
	p.mu.Lock()
	w.busy = false
	p.mu.Unlock()
}

// Free is the number of workers not bound to a task.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	free := 0
	for _, w := range p.workers {
		if !w.busy {
			free++
		}
	}
	return free
}

// Snapshot copies the state of every worker.
func (p *Pool) Snapshot() []Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Info, len(p.workers))
	for i, w := range p.workers {
		out[i] = Info{
			ID:           w.ID,
			Name:         w.Name,
			Busy:         w.busy,
			TasksRun:     w.tasksRun,
			LastReleased: w.lastReleased,
		}
	}
	return out
}

// Teardown cleans up every session. Individual failures are logged and
// collected; the remaining workers are still torn down.
func (p *Pool) Teardown(ctx context.Context) error {
	p.mu.Lock()
	workers := p.workers
	p.workers = nil
	p.next = 0
	p.mu.Unlock()

	var errs []error
	for _, w := range workers {
		if err := w.session.Cleanup(ctx); err != nil {
			logger.Log.Error().Err(err).Str("worker", w.Name).Msg("Worker teardown failed")
			errs = append(errs, fmt.Errorf("%s: %w", w.Name, err))
			continue
		}
		logger.Log.Debug().Str("worker", w.Name).Msg("Worker torn down")
	}
	return errors.Join(errs...)
}
