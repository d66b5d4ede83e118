package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis() (*miniredis.Miniredis, *RedisStore) {
	s, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	store := NewRedisStore(s.Addr(), time.Hour)
	return s, store
}

func TestPublishCompleted(t *testing.T) {
	s, store := setupTestRedis()
	defer s.Close()
	defer store.Close()
	ctx := context.Background()

	start := time.Now().UTC()
	result := tasks.Result{
		TaskID:      "done-1",
		Status:      tasks.StatusCompleted,
		Data:        map[string]any{"title": "Catalog"},
		Metadata:    map[string]any{"url": "https://example.com"},
		StartedAt:   start,
		CompletedAt: start.Add(2 * time.Second),
	}
	if err := store.Publish(ctx, result); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got, err := store.GetResult(ctx, "done-1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if got.Status != tasks.StatusCompleted {
		t.Errorf("Expected status completed, got %s", got.Status)
	}
	if d, ok := got.ExecutionTime(); !ok || d != 2*time.Second {
		t.Errorf("Expected execution time 2s, got %v (ok=%v)", d, ok)
	}

	// Verify TTL (miniredis supports TTL)
	if ttl := s.TTL("result:done-1"); ttl != time.Hour {
		t.Errorf("Expected TTL 1h, got %v", ttl)
	}

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()
	if n, _ := rdb.LLen(ctx, "completed_queue").Result(); n != 1 {
		t.Errorf("Expected completed_queue length 1, got %d", n)
	}
	if s.Exists("dead_letter_queue") {
		t.Error("Expected dead_letter_queue to be empty")
	}
}

func TestPublishFailedGoesToDeadLetter(t *testing.T) {
	s, store := setupTestRedis()
	defer s.Close()
	defer store.Close()
	ctx := context.Background()

	for _, r := range []tasks.Result{
		{TaskID: "bad-1", Status: tasks.StatusFailed, Error: "boom"},
		{TaskID: "bad-2", Status: tasks.StatusCancelled, Error: "executor stopped"},
	} {
		if err := store.Publish(ctx, r); err != nil {
			t.Fatalf("Publish %s failed: %v", r.TaskID, err)
		}
	}

	dead, err := store.Inspect(ctx, "dead_letter_queue", 10)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if len(dead) != 2 {
		t.Fatalf("Expected 2 dead-lettered results, got %d", len(dead))
	}
	if dead[0].TaskID != "bad-1" || dead[0].Error != "boom" {
		t.Errorf("Unexpected first dead letter: %+v", dead[0])
	}

	depths := store.Depths(ctx)
	if depths["dead_letter_queue"] != 2 || depths["completed_queue"] != 0 {
		t.Errorf("Unexpected depths: %v", depths)
	}
}

func TestCompletedHistoryIsTrimmed(t *testing.T) {
	s, store := setupTestRedis()
	defer s.Close()
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < completedHistory+20; i++ {
		r := tasks.Result{TaskID: tasks.NewID(), Status: tasks.StatusCompleted}
		if err := store.Publish(ctx, r); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	if n := store.Depths(ctx)["completed_queue"]; n != completedHistory {
		t.Errorf("Expected completed_queue length %d, got %d", completedHistory, n)
	}
}

func TestGetResultMissing(t *testing.T) {
	s, store := setupTestRedis()
	defer s.Close()
	defer store.Close()

	if _, err := store.GetResult(context.Background(), "nope"); err != ErrResultNotFound {
		t.Errorf("Expected ErrResultNotFound, got %v", err)
	}
}

func TestInspectUnknownList(t *testing.T) {
	s, store := setupTestRedis()
	defer s.Close()
	defer store.Close()

	if _, err := store.Inspect(context.Background(), "queue:default", 10); err == nil {
		t.Error("Expected error for unknown list")
	}
}

func TestRateLimit(t *testing.T) {
	s, store := setupTestRedis()
	defer s.Close()
	defer store.Close()
	ctx := context.Background()

	limiter := NewRateLimiter(store, 1, time.Second) // 1 token per second, capacity 1

	// First call should succeed
	allowed, err := limiter.Allow(ctx, "example.com")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !allowed {
		t.Error("Expected first call to be allowed")
	}

	// Second call immediately after should fail (burst consumed)
	allowed, err = limiter.Allow(ctx, "example.com")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if allowed {
		t.Error("Expected second call to be denied")
	}

	// Buckets are per key
	allowed, err = limiter.Allow(ctx, "other.org")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !allowed {
		t.Error("Expected a different key to have its own bucket")
	}

	// Wait for refill (1.1s)
	time.Sleep(1100 * time.Millisecond)

	allowed, err = limiter.Allow(ctx, "example.com")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !allowed {
		t.Error("Expected call to be allowed after refill")
	}
}

func TestNewRateLimiterDisabled(t *testing.T) {
	if NewRateLimiter(nil, 10, time.Second) != nil {
		t.Error("Expected nil limiter without a store")
	}
	s, store := setupTestRedis()
	defer s.Close()
	defer store.Close()
	if NewRateLimiter(store, 0, time.Second) != nil {
		t.Error("Expected nil limiter for zero calls")
	}
}
