// Package cli implements the browser-agent command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kru5ty7/browser-agent-project/pkg/config"
	"github.com/kru5ty7/browser-agent-project/pkg/executor"
	"github.com/kru5ty7/browser-agent-project/pkg/logger"
	"github.com/kru5ty7/browser-agent-project/pkg/queue"
	"github.com/kru5ty7/browser-agent-project/pkg/session"
	"github.com/spf13/cobra"
)

// Build information, injected at link time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const idlePoll = 50 * time.Millisecond

// interruptGrace bounds how long an interrupted run waits for active tasks
// before cancelling them.
var interruptGrace = 10 * time.Second

type rootOptions struct {
	configPath string
	debug      bool
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "browser-agent",
		Short: "Browser Agent - prioritized web automation tasks over a worker pool",
		Long: `Browser Agent runs web automation tasks (scrape, fill_form, navigate,
extract) on a fixed pool of headless sessions, in priority order, with
retries and a domain allow-list.

Examples:
  # Run every task in a file and write results.json
  browser-agent batch --tasks-file tasks.json

  # Scrape one page
  browser-agent single --task scrape --url https://example.com --selectors selectors.json

  # Serve the HTTP API
  browser-agent serve --config agent.yaml`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newBatchCommand(opts),
		newSingleCommand(opts),
		newServeCommand(opts),
		newDevRedisCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Browser Agent\n")
			fmt.Fprintf(out, "  Version:    %s\n", Version)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
		},
	}
}

// runtime is everything a command needs to run tasks.
type runtime struct {
	cfg   *config.Config
	exec  *executor.Executor
	store *queue.RedisStore
	logs  io.Closer
}

// newRuntime loads configuration, sets up logging and builds the
// executor. tune may adjust the executor options before construction.
func newRuntime(ctx context.Context, opts *rootOptions, tune func(*executor.Options)) (*runtime, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.debug {
		cfg.Log.Level = "DEBUG"
	}
	closer, err := logger.Setup(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logs: closer}

	var extra []executor.Option
	if cfg.Redis.Addr != "" {
		store := queue.NewRedisStore(cfg.Redis.Addr, cfg.Redis.ResultTTL)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := store.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable; results stay in memory")
			store.Close()
		} else {
			rt.store = store
			extra = append(extra, executor.WithSink(store))
			if rl := queue.NewRateLimiter(store, cfg.Security.RateLimitCalls, cfg.Security.RateLimitPeriod); rl != nil {
				extra = append(extra, executor.WithRateLimiter(rl))
			}
			logger.Log.Info().Str("addr", cfg.Redis.Addr).Msg("Publishing results to Redis")
		}
	}

	execOpts := cfg.ExecutorOptions()
	if tune != nil {
		tune(&execOpts)
	}
	if len(execOpts.AllowedDomains) > 0 {
		logger.Log.Info().Strs("allowed_domains", execOpts.AllowedDomains).Msg("Domain allow-list enabled")
	}
	rt.exec = executor.New(execOpts, session.HTTPFactory(cfg.SessionOptions()), extra...)
	return rt, nil
}

// close stops the executor if still running and releases resources.
func (rt *runtime) close() {
	if err := rt.exec.Stop(context.Background()); err != nil {
		logger.Log.Warn().Err(err).Msg("Executor stop reported errors")
	}
	if rt.store != nil {
		rt.store.Close()
	}
	rt.logs.Close()
}

// stop shuts the executor down after a run. An interrupted run cancels
// the queued tasks and gives active ones interruptGrace to finish.
func (rt *runtime) stop(ctx context.Context, interrupted bool) {
	stopCtx := context.WithoutCancel(ctx)
	if interrupted {
		logger.Log.Warn().Dur("grace", interruptGrace).Msg("Interrupted; cancelling queued tasks and waiting for active ones")
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(stopCtx, interruptGrace)
		defer cancel()
	}
	if err := rt.exec.Stop(stopCtx); err != nil {
		logger.Log.Warn().Err(err).Msg("Worker teardown reported errors")
	}
}

// waitIdle blocks until nothing is queued or active, logging progress
// every interval. It returns ctx.Err() if ctx ends first.
func (rt *runtime) waitIdle(ctx context.Context, interval time.Duration) error {
	poll := time.NewTicker(idlePoll)
	defer poll.Stop()
	lastLog := time.Now()
	for !rt.exec.Idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-poll.C:
			if now.Sub(lastLog) < interval {
				continue
			}
			lastLog = now
			st := rt.exec.Status()
			logger.Log.Info().
				Int("active", st.Active).
				Int("completed", st.Completed).
				Int("queued", st.QueueSize).
				Msg("Progress")
		}
	}
	return nil
}
