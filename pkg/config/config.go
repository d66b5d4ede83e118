// Package config loads the agent configuration: an optional YAML file,
// then environment overrides, then defaults for anything still unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kru5ty7/browser-agent-project/pkg/executor"
	"github.com/kru5ty7/browser-agent-project/pkg/logger"
	"github.com/kru5ty7/browser-agent-project/pkg/retry"
	"github.com/kru5ty7/browser-agent-project/pkg/session"
	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
	"gopkg.in/yaml.v3"
)

// Config is the complete agent configuration.
type Config struct {
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`

	Executor struct {
		MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
		PoolSize           int           `yaml:"pool_size"`
		PollInterval       time.Duration `yaml:"poll_interval"`
		GracePeriod        time.Duration `yaml:"grace_period"`
	} `yaml:"executor"`

	Retry struct {
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
		Multiplier   float64       `yaml:"multiplier"`
		Jitter       bool          `yaml:"jitter"`
	} `yaml:"retry"`

	Session struct {
		Timeout     time.Duration `yaml:"timeout"`
		UserAgent   string        `yaml:"user_agent"`
		SnapshotDir string        `yaml:"snapshot_dir"`
	} `yaml:"session"`

	Security struct {
		AllowedDomains  []string      `yaml:"allowed_domains"`
		RateLimitCalls  int           `yaml:"rate_limit_calls"`
		RateLimitPeriod time.Duration `yaml:"rate_limit_period"`
	} `yaml:"security"`

	Redis struct {
		// Addr enables the Redis result mirror and rate limiter when set.
		Addr      string        `yaml:"addr"`
		ResultTTL time.Duration `yaml:"result_ttl"`
	} `yaml:"redis"`

	API struct {
		Addr   string `yaml:"addr"`
		APIKey string `yaml:"api_key"`
	} `yaml:"api"`

	Schedules []Schedule `yaml:"schedules"`
}

// Schedule submits a fresh task built from Task on every tick of the
// cron expression Spec.
type Schedule struct {
	Spec string     `yaml:"spec" json:"spec"`
	Task tasks.Spec `yaml:"task" json:"task"`
}

// Load reads path (skipped when empty), applies environment overrides
// and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables looked up with
// lookup. Durations without a unit are read in the unit the variable has
// always used (seconds, or milliseconds for BROWSER_TIMEOUT).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, unit time.Duration, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := parseDuration(v, unit)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)
	if v, ok := lookup("ALLOWED_DOMAINS"); ok {
		c.Security.AllowedDomains = SplitList(v)
	}
	num("RATE_LIMIT_CALLS", &c.Security.RateLimitCalls)
	dur("RATE_LIMIT_PERIOD", time.Second, &c.Security.RateLimitPeriod)
	num("AGENT_RETRY_ATTEMPTS", &c.Retry.MaxAttempts)
	dur("AGENT_RETRY_DELAY", time.Second, &c.Retry.InitialDelay)
	dur("BROWSER_TIMEOUT", time.Millisecond, &c.Session.Timeout)
	num("MAX_CONCURRENT_TASKS", &c.Executor.MaxConcurrentTasks)
	num("POOL_SIZE", &c.Executor.PoolSize)
	str("REDIS_ADDR", &c.Redis.Addr)
	dur("CACHE_TTL", time.Second, &c.Redis.ResultTTL)
	str("API_ADDR", &c.API.Addr)
	str("API_KEY", &c.API.APIKey)
	return errors.Join(errs...)
}

func parseDuration(v string, unit time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(unit)), nil
	}
	return time.ParseDuration(v)
}

// SplitList splits a comma separated list, dropping blank entries.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
	c.Log.Level = strings.ToUpper(c.Log.Level)

	if c.Executor.MaxConcurrentTasks <= 0 {
		c.Executor.MaxConcurrentTasks = executor.DefaultMaxConcurrent
	}
	if c.Executor.PoolSize <= 0 {
		c.Executor.PoolSize = executor.DefaultPoolSize
	}
	if c.Executor.PollInterval <= 0 {
		c.Executor.PollInterval = executor.DefaultPollInterval
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = retry.DefaultAttempts
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = retry.DefaultInitial
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = retry.DefaultMax
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = retry.DefaultMultiplier
	}

	if c.Session.Timeout <= 0 {
		c.Session.Timeout = session.DefaultTimeout
	}
	if c.Session.UserAgent == "" {
		c.Session.UserAgent = session.DefaultUserAgent
	}

	if c.Security.RateLimitCalls <= 0 {
		c.Security.RateLimitCalls = 100
	}
	if c.Security.RateLimitPeriod <= 0 {
		c.Security.RateLimitPeriod = time.Hour
	}

	if c.Redis.ResultTTL <= 0 {
		c.Redis.ResultTTL = 24 * time.Hour
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8081"
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Executor.GracePeriod < 0 {
		errs = append(errs, errors.New("executor.grace_period must not be negative"))
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		errs = append(errs, fmt.Errorf("retry.max_delay (%s) is below retry.initial_delay (%s)", c.Retry.MaxDelay, c.Retry.InitialDelay))
	}
	for i, s := range c.Schedules {
		if strings.TrimSpace(s.Spec) == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: spec is required", i))
		}
		if s.Task.Type == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: task.type is required", i))
		}
	}
	return errors.Join(errs...)
}

// RetryPolicy builds the executor retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		Initial:     c.Retry.InitialDelay,
		Max:         c.Retry.MaxDelay,
		Multiplier:  c.Retry.Multiplier,
		Jitter:      c.Retry.Jitter,
	}
}

// ExecutorOptions builds the executor options.
func (c *Config) ExecutorOptions() executor.Options {
	return executor.Options{
		MaxConcurrent:  c.Executor.MaxConcurrentTasks,
		PoolSize:       c.Executor.PoolSize,
		PollInterval:   c.Executor.PollInterval,
		GracePeriod:    c.Executor.GracePeriod,
		Retry:          c.RetryPolicy(),
		AllowedDomains: c.Security.AllowedDomains,
	}
}

// SessionOptions builds the options for every worker session.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		Timeout:     c.Session.Timeout,
		UserAgent:   c.Session.UserAgent,
		SnapshotDir: c.Session.SnapshotDir,
	}
}
