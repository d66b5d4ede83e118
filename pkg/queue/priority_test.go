package queue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func task(id string, p tasks.Priority) tasks.Task {
	return tasks.NewScrapeTask(id, "https://example.com", nil, tasks.Options{Priority: p})
}

func drain(q *PriorityQueue) []string {
	var ids []string
	for {
		t, ok := q.Get()
		if !ok {
			return ids
		}
		ids = append(ids, t.ID())
	}
}

func TestStrictPriorityThenFIFO(t *testing.T) {
	q := NewPriorityQueue()
	q.Add(task("low-1", tasks.Low))
	q.Add(task("med-1", tasks.Medium))
	q.Add(task("crit-1", tasks.Critical))
	q.Add(task("high-1", tasks.High))
	q.Add(task("med-2", tasks.Medium))
	q.Add(task("crit-2", tasks.Critical))
	q.Add(task("low-2", tasks.Low))

	assert.Equal(t, 7, q.Size())
	assert.Equal(t, []string{"crit-1", "crit-2", "high-1", "med-1", "med-2", "low-1", "low-2"}, drain(q))
	assert.Equal(t, 0, q.Size())
}

func TestGetEmpty(t *testing.T) {
	q := NewPriorityQueue()
	got, ok := q.Get()
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestInvalidPriorityQueuedAsMedium(t *testing.T) {
	q := NewPriorityQueue()
	q.Add(task("weird", tasks.Priority(9)))
	q.Add(task("high", tasks.High))
	q.Add(task("low", tasks.Low))

	assert.Equal(t, 1, q.Depths()[tasks.Medium])
	assert.Equal(t, []string{"high", "weird", "low"}, drain(q))
}

func TestDepthsAndClear(t *testing.T) {
	q := NewPriorityQueue()
	q.Add(task("a", tasks.High))
	q.Add(task("b", tasks.High))
	q.Add(task("c", tasks.Low))

	d := q.Depths()
	assert.Equal(t, 2, d[tasks.High])
	assert.Equal(t, 1, d[tasks.Low])
	assert.Equal(t, 0, d[tasks.Critical])

	removed := q.Clear()
	require.Len(t, removed, 3)
	assert.Equal(t, "a", removed[0].ID())
	assert.Equal(t, "c", removed[2].ID())
	assert.Equal(t, 0, q.Size())
	_, ok := q.Get()
	assert.False(t, ok)
}

func TestConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	const producers, perProducer = 8, 200
	q := NewPriorityQueue()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Add(task(fmt.Sprintf("%d-%04d", p, i), tasks.Medium))
			}
		}(p)
	}
	wg.Wait()

	require.Equal(t, producers*perProducer, q.Size())
	last := make(map[string]string)
	for _, id := range drain(q) {
		producer := id[:1]
		assert.Greater(t, id, last[producer], "FIFO violated for producer %s", producer)
		last[producer] = id
	}
}
