// Package executor implements the scheduler that drains the priority
// queue onto the worker pool.
//
// Lifecycle: Stopped -> Starting -> Running -> Stopping -> Stopped.
//
// While Running, a single scheduling goroutine pops the oldest task of
// the highest priority, binds it to a free worker and dispatches it on
// its own goroutine. Each dispatch runs the domain admission check, then
// the retry policy around Task.Execute, and always ends by appending a
// Result, removing the task from the active set and releasing the worker.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kru5ty7/browser-agent-project/pkg/logger"
	"github.com/kru5ty7/browser-agent-project/pkg/queue"
	"github.com/kru5ty7/browser-agent-project/pkg/retry"
	"github.com/kru5ty7/browser-agent-project/pkg/session"
	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
	"github.com/kru5ty7/browser-agent-project/pkg/worker"
	"github.com/robfig/cron/v3"
)

// ErrNotAccepting is returned by AddTask while the executor is stopping.
var ErrNotAccepting = errors.New("executor: not accepting tasks while stopping")

const (
	DefaultMaxConcurrent = 5
	DefaultPoolSize      = 3
	DefaultPollInterval  = 100 * time.Millisecond

	publishTimeout = 5 * time.Second
)

// Options configure an Executor.
type Options struct {
	// MaxConcurrent bounds the number of active tasks.
	MaxConcurrent int
	PoolSize      int

	// PollInterval is how often an idle scheduling loop re-checks for
	// work when it has not been woken.
	PollInterval time.Duration

	// GracePeriod bounds how long Stop waits for active tasks before
	// cancelling them. Zero waits indefinitely.
	GracePeriod time.Duration

	Retry          retry.Policy
	AllowedDomains []string
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// Sink receives every terminal result, e.g. queue.RedisStore.
type Sink interface {
	Publish(ctx context.Context, r tasks.Result) error
}

// Limiter gates each execution attempt per target domain,
// e.g. queue.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Option customizes an Executor.
type Option func(*Executor)

// WithSink adds a result sink.
func WithSink(s Sink) Option {
	return func(e *Executor) { e.sinks = append(e.sinks, s) }
}

// WithRateLimiter limits execution attempts per target domain. A denied
// attempt counts as a transient failure.
func WithRateLimiter(l Limiter) Option {
	return func(e *Executor) { e.limiter = l }
}

type activeTask struct {
	task     tasks.Task
	worker   *worker.Worker
	cancel   context.CancelFunc
	queuedAt time.Time
}

// Executor owns the queue, the worker pool, the active set and the
// result store.
type Executor struct {
	opts    Options
	queue   *queue.PriorityQueue
	pool    *worker.Pool
	results *queue.ResultStore
	policy  DomainPolicy
	sinks   []Sink
	limiter Limiter
	cron    *cron.Cron

	mu        sync.Mutex
	state     State
	active    map[string]*activeTask
	queued    map[string]struct{}
	completed int
	runCtx    context.Context
	cancelRun context.CancelFunc
	quit      chan struct{}
	loopDone  chan struct{}
	done      chan struct{}

	wake chan struct{}
	wg   sync.WaitGroup
}

// New returns a stopped executor whose workers get sessions from factory.
func New(opts Options, factory session.Factory, options ...Option) *Executor {
	opts = opts.withDefaults()
	e := &Executor{
		opts:    opts,
		queue:   queue.NewPriorityQueue(),
		pool:    worker.NewPool(opts.PoolSize, factory),
		results: queue.NewResultStore(),
		policy:  NewDomainPolicy(opts.AllowedDomains),
		cron:    cron.New(),
		state:   StateStopped,
		active:  make(map[string]*activeTask),
		queued:  make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	close(e.done)
	for _, o := range options {
		o(e)
	}
	return e
}

// State returns the current lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// AddTask validates t and queues it. It fails with a *tasks.ValidationError
// when t is invalid or its id is already queued or active, and with
// ErrNotAccepting while the executor is stopping.
func (e *Executor) AddTask(t tasks.Task) error {
	if err := t.Validate(); err != nil {
		var verr *tasks.ValidationError
		if errors.As(err, &verr) {
			return err
		}
		return &tasks.ValidationError{TaskID: t.ID(), Reason: err.Error(), Err: err}
	}

	e.mu.Lock()
	if e.state == StateStopping {
		e.mu.Unlock()
		return ErrNotAccepting
	}
	id := t.ID()
	_, isQueued := e.queued[id]
	_, isActive := e.active[id]
	if isQueued || isActive {
		e.mu.Unlock()
		return &tasks.ValidationError{TaskID: id, Reason: tasks.ErrDuplicateID.Error(), Err: tasks.ErrDuplicateID}
	}
	e.queued[id] = struct{}{}
	t.SetStatus(tasks.StatusPending)
	e.queue.Add(t)
	e.mu.Unlock()

	logger.Log.Info().
		Str("task_id", id).
		Str("kind", t.Kind()).
		Str("priority", t.Priority().String()).
		Msg("Task queued")
	e.signal()
	return nil
}

// AddTasks adds ts in order and stops at the first error.
func (e *Executor) AddTasks(ts []tasks.Task) error {
	for _, t := range ts {
		if err := e.AddTask(t); err != nil {
			return err
		}
	}
	return nil
}

// Schedule registers a cron entry that builds and submits a fresh task
// on every tick. Entries run only while the executor is running.
func (e *Executor) Schedule(spec string, build func() (tasks.Task, error)) (cron.EntryID, error) {
	return e.cron.AddFunc(spec, func() {
		t, err := build()
		if err != nil {
			logger.Log.Error().Err(err).Str("schedule", spec).Msg("Failed to build scheduled task")
			return
		}
		if err := e.AddTask(t); err != nil {
			logger.Log.Warn().Err(err).Str("schedule", spec).Str("task_id", t.ID()).Msg("Scheduled task rejected")
		}
	})
}

// Unschedule removes a cron entry.
func (e *Executor) Unschedule(id cron.EntryID) {
	e.cron.Remove(id)
}

// Start initializes the worker pool and launches the scheduling loop.
// On pool failure the executor stays stopped and the
// *worker.FatalInitializationError is returned.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateStopped {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("executor: cannot start while %s", state)
	}
	e.state = StateStarting
	e.mu.Unlock()

	logger.Log.Info().
		Int("pool_size", e.opts.PoolSize).
		Int("max_concurrent", e.opts.MaxConcurrent).
		Msg("Starting executor")

	if err := e.pool.Initialize(ctx); err != nil {
		e.mu.Lock()
		e.state = StateStopped
		e.mu.Unlock()
		logger.Log.Error().Err(err).Msg("Executor failed to start")
		return err
	}

	e.mu.Lock()
	e.runCtx, e.cancelRun = context.WithCancel(context.Background())
	e.quit = make(chan struct{})
	e.loopDone = make(chan struct{})
	e.done = make(chan struct{})
	e.state = StateRunning
	e.mu.Unlock()

	go e.loop()
	e.cron.Start()
	logger.Log.Info().Msg("Executor running")
	return nil
}

// Run starts the executor and blocks until it is stopped. When ctx is
// cancelled Run stops the executor itself.
func (e *Executor) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return e.Stop(context.Background())
	}
}

// Done is closed once the executor has returned to Stopped.
func (e *Executor) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Stop shuts the executor down. It stops dispatching, cancels every task
// still queued, waits for active tasks to finish, and tears down the
// pool. Active tasks are cancelled once the grace period (if any)
// elapses or ctx is done. Calling Stop on a stopped executor is a no-op.
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRunning {
		state := e.state
		e.mu.Unlock()
		if state == StateStopped {
			return nil
		}
		return fmt.Errorf("executor: cannot stop while %s", state)
	}
	e.state = StateStopping
	e.mu.Unlock()
	logger.Log.Info().Msg("Stopping executor")

	<-e.cron.Stop().Done()
	close(e.quit)
	<-e.loopDone

	for _, t := range e.queue.Clear() {
		now := time.Now().UTC()
		r := tasks.Result{
			TaskID:      t.ID(),
			Status:      tasks.StatusCancelled,
			Error:       "executor stopped before the task was dispatched",
			StartedAt:   now,
			CompletedAt: now,
		}
		e.mu.Lock()
		delete(e.queued, t.ID())
		e.results.Append(r)
		e.completed++
		e.mu.Unlock()
		e.record(t, r)
	}

	e.drain(ctx)

	err := e.pool.Teardown(context.WithoutCancel(ctx))
	e.cancelRun()

	e.mu.Lock()
	e.state = StateStopped
	close(e.done)
	e.mu.Unlock()
	queueDepth.Reset()
	logger.Log.Info().Int("results", e.results.Len()).Msg("Executor stopped")
	return err
}

// drain waits for every dispatch to finish, cancelling the active ones
// when the grace period elapses or ctx is done.
func (e *Executor) drain(ctx context.Context) {
	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()

	var grace <-chan time.Time
	if e.opts.GracePeriod > 0 {
		timer := time.NewTimer(e.opts.GracePeriod)
		defer timer.Stop()
		grace = timer.C
	}

	select {
	case <-drained:
		return
	case <-grace:
		logger.Log.Warn().Dur("grace_period", e.opts.GracePeriod).Msg("Grace period elapsed; cancelling active tasks")
	case <-ctx.Done():
		logger.Log.Warn().Err(ctx.Err()).Msg("Stop deadline reached; cancelling active tasks")
	}
	e.mu.Lock()
	for _, a := range e.active {
		a.cancel()
	}
	e.mu.Unlock()
	<-drained
}

func (e *Executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// loop is the scheduling goroutine. It dispatches until it cannot, then
// waits for a wake-up or the next poll tick.
func (e *Executor) loop() {
	defer close(e.loopDone)
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		for e.dispatchNext() {
		}
		select {
		case <-e.quit:
			return
		case <-e.wake:
		case <-ticker.C:
			recordDepths(e.queue.Depths())
		}
	}
}

// dispatchNext binds the next queued task to a free worker. It reports
// false when nothing could be dispatched.
func (e *Executor) dispatchNext() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning || len(e.active) >= e.opts.MaxConcurrent || e.queue.Size() == 0 {
		return false
	}
	w, ok := e.pool.Acquire()
	if !ok {
		return false
	}
	t, ok := e.queue.Get()
	if !ok {
		e.pool.Putback(w)
		return false
	}

	ctx, cancel := context.WithCancel(e.runCtx)
	a := &activeTask{task: t, worker: w, cancel: cancel, queuedAt: t.CreatedAt()}
	delete(e.queued, t.ID())
	e.active[t.ID()] = a
	activeTasks.Set(float64(len(e.active)))
	t.SetStatus(tasks.StatusRunning)

	e.wg.Add(1)
	go e.dispatch(ctx, a)
	return true
}

func (e *Executor) dispatch(ctx context.Context, a *activeTask) {
	defer e.wg.Done()
	defer a.cancel()

	t := a.task
	started := time.Now().UTC()
	queueLatency.WithLabelValues(t.Kind()).Observe(started.Sub(a.queuedAt).Seconds())

	log := logger.Log.With().Str("task_id", t.ID()).Str("worker", a.worker.Name).Logger()
	log.Info().Str("kind", t.Kind()).Str("priority", t.Priority().String()).Msg("Dispatching task")

	out, attempts := e.execute(ctx, a)
	result := tasks.Result{
		TaskID:      t.ID(),
		Data:        out.Data,
		Metadata:    out.Metadata,
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
	}
	if attempts > 1 {
		result.Retries = attempts - 1
	}
	switch {
	case out.Err == nil:
		result.Status = tasks.StatusCompleted
	case ctx.Err() != nil:
		result.Status = tasks.StatusCancelled
		result.Error = out.Err.Error()
	default:
		result.Status = tasks.StatusFailed
		result.Error = out.Err.Error()
	}

	e.mu.Lock()
	e.results.Append(result)
	delete(e.active, t.ID())
	e.completed++
	activeTasks.Set(float64(len(e.active)))
	e.mu.Unlock()
	e.pool.Release(a.worker)

	e.record(t, result)
	taskDuration.WithLabelValues(t.Kind()).Observe(result.CompletedAt.Sub(started).Seconds())
	if result.Retries > 0 {
		taskRetries.WithLabelValues(t.Kind()).Add(float64(result.Retries))
	}

	ev := log.Info()
	if result.Status != tasks.StatusCompleted {
		ev = log.Error().Str("error", result.Error)
	}
	ev.Str("status", string(result.Status)).Int("retries", result.Retries).Msg("Task finished")
	e.signal()
}

// execute runs admission and the retry loop. It returns the last outcome
// and the number of attempts made, zero when admission rejected the task.
func (e *Executor) execute(ctx context.Context, a *activeTask) (tasks.Outcome, int) {
	t := a.task
	var targets []string
	if tt, ok := t.(tasks.Targeted); ok {
		targets = tt.TargetURLs()
	}
	if err := e.policy.Check(targets); err != nil {
		return tasks.Failed(err), 0
	}

	var timeout time.Duration
	if tt, ok := t.(tasks.Timed); ok {
		timeout = tt.Timeout()
	}

	var last tasks.Outcome
	attempts, err := e.opts.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := e.admitRate(ctx, targets); err != nil {
			last = tasks.Failed(err)
			return err
		}
		last = e.attempt(ctx, t, a.worker.Session(), timeout)
		return last.Err
	})
	if err != nil {
		last.Err = err
	}
	return last, attempts
}

// admitRate takes one token per distinct target domain. Limiter errors
// fail open.
func (e *Executor) admitRate(ctx context.Context, targets []string) error {
	if e.limiter == nil {
		return nil
	}
	seen := make(map[string]bool, len(targets))
	for _, raw := range targets {
		host := hostOf(raw)
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true
		ok, err := e.limiter.Allow(ctx, host)
		if err != nil {
			logger.Log.Error().Err(err).Str("domain", host).Msg("Rate limit check failed")
			continue
		}
		if !ok {
			return retry.Transientf("rate limit exceeded for %s", host)
		}
	}
	return nil
}

// attempt is one Execute call bounded by the task timeout. A timeout is
// terminal even when the task reported a transient error. A panic is
// recovered into a terminal failure.
func (e *Executor) attempt(ctx context.Context, t tasks.Task, s session.Session, timeout time.Duration) (out tasks.Outcome) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error().Str("task_id", t.ID()).Interface("panic", r).Msg("Task panicked")
			out = tasks.Failed(fmt.Errorf("task panicked: %v", r))
		}
	}()

	out = t.Execute(ctx, s)
	if out.Err != nil && timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out.Err = fmt.Errorf("task timed out after %s: %v", timeout, out.Err)
	}
	return out
}

// record sets the terminal status and publishes r to every sink.
func (e *Executor) record(t tasks.Task, r tasks.Result) {
	t.SetStatus(r.Status)
	tasksProcessed.WithLabelValues(string(r.Status), t.Kind()).Inc()

	if len(e.sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	for _, s := range e.sinks {
		if err := s.Publish(ctx, r); err != nil {
			logger.Log.Warn().Err(err).Str("task_id", r.TaskID).Msg("Failed to publish result")
		}
	}
}

// Results returns an independent copy of every recorded result.
func (e *Executor) Results() []tasks.Result {
	return e.results.Snapshot()
}

// Result returns the most recent result recorded for id.
func (e *Executor) Result(id string) (tasks.Result, bool) {
	return e.results.Get(id)
}

// ClearResults drops every recorded result and resets the completed count.
func (e *Executor) ClearResults() {
	e.mu.Lock()
	e.results.Reset()
	e.completed = 0
	e.mu.Unlock()
}
