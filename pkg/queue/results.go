package queue

import (
	"sync"

	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
)

// ResultStore is an append-only record of terminal task outcomes.
// Appends from concurrently completing tasks are serialized.
type ResultStore struct {
	mu      sync.RWMutex
	results []tasks.Result
}

func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// Append records r. The store keeps its own copy of the metadata map.
func (s *ResultStore) Append(r tasks.Result) {
	r = r.Clone()
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
}

func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Snapshot returns an independent copy of every result in append order.
func (s *ResultStore) Snapshot() []tasks.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tasks.Result, len(s.results))
	for i, r := range s.results {
		out[i] = r.Clone()
	}
	return out
}

// Get returns the most recent result for taskID.
func (s *ResultStore) Get(taskID string) (tasks.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.results) - 1; i >= 0; i-- {
		if s.results[i].TaskID == taskID {
			return s.results[i].Clone(), true
		}
	}
	return tasks.Result{}, false
}

// Reset drops every recorded result.
func (s *ResultStore) Reset() {
	s.mu.Lock()
	s.results = nil
	s.mu.Unlock()
}
