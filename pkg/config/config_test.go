package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	var c Config
	require.NoError(t, c.ApplyEnv(env(nil)))
	c.ApplyDefaults()
	require.NoError(t, c.Validate())

	assert.Equal(t, "INFO", c.Log.Level)
	assert.Equal(t, 5, c.Executor.MaxConcurrentTasks)
	assert.Equal(t, 3, c.Executor.PoolSize)
	assert.Equal(t, 100*time.Millisecond, c.Executor.PollInterval)
	assert.Zero(t, c.Executor.GracePeriod)
	assert.Equal(t, 3, c.Retry.MaxAttempts)
	assert.Equal(t, time.Second, c.Retry.InitialDelay)
	assert.Equal(t, 30*time.Second, c.Retry.MaxDelay)
	assert.Equal(t, 30*time.Second, c.Session.Timeout)
	assert.Equal(t, 100, c.Security.RateLimitCalls)
	assert.Equal(t, time.Hour, c.Security.RateLimitPeriod)
	assert.Equal(t, 24*time.Hour, c.Redis.ResultTTL)
	assert.Equal(t, ":8081", c.API.Addr)
	assert.Empty(t, c.Security.AllowedDomains)
}

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
executor:
  max_concurrent_tasks: 8
  pool_size: 4
  grace_period: 10s
retry:
  max_attempts: 5
  initial_delay: 500ms
  jitter: true
security:
  allowed_domains: [example.com, docs.org]
schedules:
  - spec: "@every 1m"
    task:
      type: scrape
      url: https://example.com
      selectors: {title: h1}
      priority: high
`), 0o644))

	t.Setenv("AGENT_RETRY_ATTEMPTS", "7")
	t.Setenv("BROWSER_TIMEOUT", "15000")
	t.Setenv("ALLOWED_DOMAINS", "a.com, b.com,,")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Executor.MaxConcurrentTasks)
	assert.Equal(t, 10*time.Second, cfg.Executor.GracePeriod)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 15*time.Second, cfg.Session.Timeout)
	assert.Equal(t, []string{"a.com", "b.com"}, cfg.Security.AllowedDomains)

	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, tasks.High, cfg.Schedules[0].Task.Priority)
	assert.Equal(t, "h1", cfg.Schedules[0].Task.Selectors["title"])

	opts := cfg.ExecutorOptions()
	assert.Equal(t, 4, opts.PoolSize)
	assert.True(t, opts.Retry.Jitter)
	assert.Equal(t, []string{"a.com", "b.com"}, opts.AllowedDomains)
	assert.Equal(t, 15*time.Second, cfg.SessionOptions().Timeout)
}

func TestEnvUnits(t *testing.T) {
	var c Config
	require.NoError(t, c.ApplyEnv(env(map[string]string{
		"AGENT_RETRY_DELAY": "1.5",
		"RATE_LIMIT_PERIOD": "60",
		"CACHE_TTL":         "2h",
		"REDIS_ADDR":        "localhost:6379",
	})))
	assert.Equal(t, 1500*time.Millisecond, c.Retry.InitialDelay)
	assert.Equal(t, time.Minute, c.Security.RateLimitPeriod)
	assert.Equal(t, 2*time.Hour, c.Redis.ResultTTL)
	assert.Equal(t, "localhost:6379", c.Redis.Addr)
}

func TestInvalidValues(t *testing.T) {
	var c Config
	err := c.ApplyEnv(env(map[string]string{"AGENT_RETRY_ATTEMPTS": "many", "BROWSER_TIMEOUT": "soon"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENT_RETRY_ATTEMPTS")
	assert.Contains(t, err.Error(), "BROWSER_TIMEOUT")

	c = Config{}
	c.Log.Level = "verbose"
	c.Schedules = []Schedule{{Spec: ""}}
	c.ApplyDefaults()
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spec is required")
	assert.Contains(t, err.Error(), "task.type is required")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
