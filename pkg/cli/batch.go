package cli

import (
	"fmt"
	"time"

	"github.com/kru5ty7/browser-agent-project/pkg/logger"
	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
	"github.com/spf13/cobra"
)

type batchOptions struct {
	tasksFile string
	output    string
	progress  time.Duration
}

func newBatchCommand(root *rootOptions) *cobra.Command {
	opts := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run every task in a JSON or YAML file and save the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.tasksFile, "tasks-file", "", "JSON or YAML file with task definitions")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "results.json", "Results file")
	cmd.Flags().DurationVar(&opts.progress, "progress", time.Second, "Progress log interval")
	_ = cmd.MarkFlagRequired("tasks-file")
	return cmd
}

func runBatch(cmd *cobra.Command, root *rootOptions, opts *batchOptions) error {
	ctx := cmd.Context()
	specs, err := tasks.LoadSpecs(opts.tasksFile)
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, root, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	rejected := 0
	for i, spec := range specs {
		t, err := tasks.FromSpec(spec)
		if err == nil {
			err = rt.exec.AddTask(t)
		}
		if err != nil {
			rejected++
			logger.Log.Warn().Err(err).Int("index", i).Str("type", spec.Type).Msg("Skipping task")
		}
	}
	logger.Log.Info().Int("queued", len(specs)-rejected).Int("rejected", rejected).Msg("Tasks loaded")

	if err := rt.exec.Start(ctx); err != nil {
		return err
	}
	interrupted := rt.waitIdle(ctx, opts.progress) != nil
	rt.stop(ctx, interrupted)

	results := rt.exec.Results()
	if err := tasks.SaveResults(opts.output, results); err != nil {
		return err
	}
	logger.Log.Info().Str("file", opts.output).Msg("All tasks completed. Results saved")

	printSummary(cmd.OutOrStdout(), results, rejected)
	if failed := countStatus(results, tasks.StatusFailed); failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(results))
	}
	return nil
}
