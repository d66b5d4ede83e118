package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kru5ty7/browser-agent-project/pkg/session/sessiontest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, size int) (*Pool, *sessiontest.Factory) {
	t.Helper()
	f := &sessiontest.Factory{}
	p := NewPool(size, f.New)
	require.NoError(t, p.Initialize(context.Background()))
	return p, f
}

func TestInitializeStartsEverySession(t *testing.T) {
	p, f := newPool(t, 3)
	assert.Equal(t, 3, p.Size())
	require.Len(t, f.Sessions(), 3)
	for _, s := range f.Sessions() {
		assert.True(t, s.Initialized(), s.Name)
	}
	assert.Equal(t, 3, p.Free())
}

func TestInitializeFailureLeavesNoPartialPool(t *testing.T) {
	boom := errors.New("browser binary missing")
	f := &sessiontest.Factory{FailOn: map[string]error{"worker-2": boom}}
	p := NewPool(4, f.New)

	err := p.Initialize(context.Background())
	var fatal *FatalInitializationError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "worker-2", fatal.Worker)
	assert.ErrorIs(t, err, boom)

	sessions := f.Sessions()
	require.Len(t, sessions, 3)
	assert.True(t, sessions[0].Cleaned.Load())
	assert.True(t, sessions[1].Cleaned.Load())
	assert.Empty(t, p.Snapshot())
	_, ok := p.Acquire()
	assert.False(t, ok)
}

func TestAcquireRoundRobin(t *testing.T) {
	p, _ := newPool(t, 3)

	var order []int
	for i := 0; i < 6; i++ {
		w, ok := p.Acquire()
		require.True(t, ok)
		order = append(order, w.ID)
		p.Release(w)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, order)

	for _, info := range p.Snapshot() {
		assert.Equal(t, 2, info.TasksRun, info.Name)
		assert.False(t, info.LastReleased.IsZero())
	}
}

func TestAcquireSkipsBusyAndReportsExhaustion(t *testing.T) {
	p, _ := newPool(t, 2)

	a, ok := p.Acquire()
	require.True(t, ok)
	b, ok := p.Acquire()
	require.True(t, ok)
	assert.NotEqual(t, a.ID, b.ID)

	_, ok = p.Acquire()
	assert.False(t, ok)
	assert.Equal(t, 0, p.Free())

	p.Release(a)
	c, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, a.ID, c.ID)
}

func TestConcurrentAcquireNeverSharesWorker(t *testing.T) {
	p, _ := newPool(t, 4)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		held = map[int]bool{}
	)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				w, ok := p.Acquire()
				if !ok {
					continue
				}
				mu.Lock()
				if held[w.ID] {
					t.Errorf("worker %d acquired twice", w.ID)
				}
				held[w.ID] = true
				mu.Unlock()

				mu.Lock()
				held[w.ID] = false
				mu.Unlock()
				p.Release(w)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, p.Free())
}

func TestTeardownContinuesPastFailures(t *testing.T) {
	f := &sessiontest.Factory{CleanupFails: map[string]error{"worker-0": errors.New("already closed")}}
	p := NewPool(3, f.New)
	require.NoError(t, p.Initialize(context.Background()))

	err := p.Teardown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker-0")
	for _, s := range f.Sessions() {
		assert.True(t, s.Cleaned.Load(), s.Name)
	}
	assert.Empty(t, p.Snapshot())
}

func TestNewPoolMinimumSize(t *testing.T) {
	p := NewPool(0, (&sessiontest.Factory{}).New)
	assert.Equal(t, 1, p.Size())
}
