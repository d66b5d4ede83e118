package integration_tests

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kru5ty7/browser-agent-project/pkg/executor"
	"github.com/kru5ty7/browser-agent-project/pkg/queue"
	"github.com/kru5ty7/browser-agent-project/pkg/retry"
	"github.com/kru5ty7/browser-agent-project/pkg/session"
	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

// setupIntegrationRedis connects to the local Redis instance.
// Requires docker-compose up -d to be running.
func setupIntegrationRedis(t *testing.T) *queue.RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not reachable at localhost:6379 (%v)", err)
	}

	// Clear lists for clean state
	rdb.Del(context.Background(), "completed_queue", "dead_letter_queue")

	store := queue.NewRedisStore("localhost:6379", time.Minute)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIntegrationFlow(t *testing.T) {
	store := setupIntegrationRedis(t)
	ctx := context.Background()

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Integration</h1></body></html>`)
	}))
	defer site.Close()

	exec := executor.New(executor.Options{
		PoolSize:       2,
		MaxConcurrent:  2,
		PollInterval:   10 * time.Millisecond,
		Retry:          retry.Policy{MaxAttempts: 1},
		AllowedDomains: []string{"127.0.0.1"},
	}, session.HTTPFactory(session.Options{Timeout: 5 * time.Second}),
		executor.WithSink(store),
		executor.WithRateLimiter(queue.NewRateLimiter(store, 100, time.Minute)))

	// 1. Submit one task that completes and one the allow-list rejects
	ok := tasks.NewScrapeTask("integration-ok", site.URL, map[string]string{"h": "h1"}, tasks.Options{})
	blocked := tasks.NewScrapeTask("integration-blocked", "https://blocked.example/", map[string]string{"h": "h1"}, tasks.Options{})
	if err := exec.AddTasks([]tasks.Task{ok, blocked}); err != nil {
		t.Fatalf("AddTasks failed: %v", err)
	}
	if err := exec.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// 2. Wait for both to finish
	deadline := time.Now().Add(10 * time.Second)
	for !exec.Idle() {
		if time.Now().After(deadline) {
			t.Fatal("tasks did not finish in time")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := exec.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// 3. Results are mirrored to Redis
	r, err := store.GetResult(ctx, "integration-ok")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if r.Status != tasks.StatusCompleted {
		t.Errorf("Expected completed, got %s (%s)", r.Status, r.Error)
	}

	r, err = store.GetResult(ctx, "integration-blocked")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if r.Status != tasks.StatusFailed {
		t.Errorf("Expected failed, got %s", r.Status)
	}

	depths := store.Depths(ctx)
	if depths["completed_queue"] != 1 {
		t.Errorf("Expected 1 completed result, got %d", depths["completed_queue"])
	}
	if depths["dead_letter_queue"] != 1 {
		t.Errorf("Expected 1 dead-lettered result, got %d", depths["dead_letter_queue"])
	}
}
