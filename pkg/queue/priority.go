// Package queue provides the in-process task queue, the append-only
// result store, and a Redis-backed mirror for results and rate limits.
//
// PriorityQueue keeps one FIFO bucket per priority level:
//   - Critical -> drained first
//   - High
//   - Medium
//   - Low -> drained last
//
// All operations share a single mutex; producers (submitting callers) and
// the executor's scheduling loop may call them concurrently.
package queue

import (
	"sync"

	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
)

// PriorityQueue is a strict-priority queue, FIFO within a priority.
type PriorityQueue struct {
	mu      sync.Mutex
	buckets map[tasks.Priority][]tasks.Task
	size    int
}

// NewPriorityQueue returns an empty queue.
func NewPriorityQueue() *PriorityQueue {
	q := &PriorityQueue{buckets: make(map[tasks.Priority][]tasks.Task, len(tasks.Priorities))}
	for _, p := range tasks.Priorities {
		q.buckets[p] = nil
	}
	return q
}

// Add appends task to the bucket of its priority. Unknown priorities are
// queued as Medium.
func (q *PriorityQueue) Add(task tasks.Task) {
	p := task.Priority()
	if !p.Valid() {
		p = tasks.Medium
	}
	q.mu.Lock()
	q.buckets[p] = append(q.buckets[p], task)
	q.size++
	q.mu.Unlock()
}

// Get removes and returns the oldest task of the highest non-empty
// priority. ok is false when the queue is empty.
func (q *PriorityQueue) Get() (task tasks.Task, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range tasks.Priorities {
		bucket := q.buckets[p]
		if len(bucket) == 0 {
			continue
		}
		task = bucket[0]
		bucket[0] = nil
		q.buckets[p] = bucket[1:]
		if len(q.buckets[p]) == 0 {
			// release the backing array once drained
			q.buckets[p] = nil
		}
		q.size--
		return task, true
	}
	return nil, false
}

// Size is the total number of queued tasks.
func (q *PriorityQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Depths returns the number of queued tasks per priority.
func (q *PriorityQueue) Depths() map[tasks.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[tasks.Priority]int, len(q.buckets))
	for p, b := range q.buckets {
		out[p] = len(b)
	}
	return out
}

// Clear empties every bucket and returns the removed tasks in dequeue order.
func (q *PriorityQueue) Clear() []tasks.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := make([]tasks.Task, 0, q.size)
	for _, p := range tasks.Priorities {
		removed = append(removed, q.buckets[p]...)
		q.buckets[p] = nil
	}
	q.size = 0
	return removed
}
