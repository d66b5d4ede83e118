package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/kru5ty7/browser-agent-project/pkg/executor"
	"github.com/kru5ty7/browser-agent-project/pkg/session"
	"github.com/kru5ty7/browser-agent-project/pkg/session/sessiontest"
	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Test</title></head><body><h1>Hello</h1><p class="x">one</p><p class="x">two</p></body></html>`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    "+Version)
	assert.Contains(t, out, "Git Commit:")
}

func TestBatchCommand(t *testing.T) {
	srv := testSite(t)
	dir := t.TempDir()

	cfg := writeFile(t, dir, "agent.yaml", `
log:
  level: ERROR
executor:
  pool_size: 2
retry:
  max_attempts: 2
  initial_delay: 1ms
  max_delay: 2ms
security:
  allowed_domains: ["127.0.0.1"]
`)
	tasksFile := writeFile(t, dir, "tasks.json", fmt.Sprintf(`[
  {"type": "scrape", "task_id": "scrape-1", "url": %q, "selectors": {"title": "h1", "items": "p.x"}, "priority": "HIGH"},
  {"type": "scrape", "task_id": "blocked-1", "url": "https://blocked.example/", "selectors": {"title": "h1"}},
  {"type": "teleport", "task_id": "bad-1"}
]`, srv.URL))
	output := filepath.Join(dir, "results.json")

	out, err := runCommand(t, "batch", "--config", cfg, "--tasks-file", tasksFile, "--output", output)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 tasks failed")
	assert.Contains(t, out, "Rejected: 1")

	results, err := tasks.LoadResults(output)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]tasks.Result{}
	for _, r := range results {
		byID[r.TaskID] = r
	}
	ok := byID["scrape-1"]
	assert.Equal(t, tasks.StatusCompleted, ok.Status)
	data, isMap := ok.Data.(map[string]any)
	require.True(t, isMap)
	assert.Equal(t, []any{"Hello"}, data["title"])
	assert.Equal(t, []any{"one", "two"}, data["items"])

	blocked := byID["blocked-1"]
	assert.Equal(t, tasks.StatusFailed, blocked.Status)
	assert.Contains(t, blocked.Error, "blocked.example")
	assert.Equal(t, 0, blocked.Retries)
}

func TestBatchCommandMissingFile(t *testing.T) {
	_, err := runCommand(t, "batch", "--tasks-file", filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestSingleCommand(t *testing.T) {
	srv := testSite(t)
	dir := t.TempDir()
	selectors := writeFile(t, dir, "selectors.json", `{"heading": "h1"}`)
	output := filepath.Join(dir, "output.json")

	out, err := runCommand(t, "single", "--task", "scrape", "--url", srv.URL, "--selectors", selectors, "--output", output)
	require.NoError(t, err)
	assert.Contains(t, out, "scrape-1")

	results, err := tasks.LoadResults(output)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, tasks.StatusCompleted, results[0].Status)
}

func TestSingleCommandInvalidTask(t *testing.T) {
	_, err := runCommand(t, "single", "--task", "scrape")
	require.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	color.NoColor = true
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	results := []tasks.Result{
		{TaskID: "a", Status: tasks.StatusCompleted, StartedAt: start, CompletedAt: start.Add(1500 * time.Millisecond)},
		{TaskID: "b", Status: tasks.StatusFailed, Error: "boom", Retries: 2},
		{TaskID: "c", Status: tasks.StatusCancelled},
	}

	var buf bytes.Buffer
	printSummary(&buf, results, 0)
	out := buf.String()

	assert.Contains(t, out, "TASK")
	assert.Contains(t, out, "1.50s")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "Total: 3")
	assert.Contains(t, out, "Completed: 1")
	assert.Contains(t, out, "Failed: 1")
	assert.Contains(t, out, "Cancelled: 1")
	assert.NotContains(t, out, "Rejected")
}

type blockingTask struct {
	*tasks.Base
}

func (t *blockingTask) Validate() error { return nil }

func (t *blockingTask) Execute(ctx context.Context, s session.Session) tasks.Outcome {
	<-ctx.Done()
	return tasks.Failed(ctx.Err())
}

func TestInterruptedStopIsBounded(t *testing.T) {
	old := interruptGrace
	interruptGrace = 50 * time.Millisecond
	t.Cleanup(func() { interruptGrace = old })

	factory := &sessiontest.Factory{}
	rt := &runtime{exec: executor.New(executor.Options{PoolSize: 1, MaxConcurrent: 1}, factory.New)}
	require.NoError(t, rt.exec.AddTask(&blockingTask{Base: tasks.NewBase("stuck", "fake", tasks.Options{})}))
	require.NoError(t, rt.exec.AddTask(&blockingTask{Base: tasks.NewBase("queued", "fake", tasks.Options{Priority: tasks.Low})}))
	require.NoError(t, rt.exec.Start(context.Background()))
	require.Eventually(t, func() bool { return rt.exec.Status().Active == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	rt.stop(ctx, true)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, executor.StateStopped, rt.exec.State())
	for _, id := range []string{"stuck", "queued"} {
		r, ok := rt.exec.Result(id)
		require.True(t, ok, id)
		assert.Equal(t, tasks.StatusCancelled, r.Status, id)
	}
}
