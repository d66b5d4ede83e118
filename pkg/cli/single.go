package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kru5ty7/browser-agent-project/pkg/executor"
	"github.com/kru5ty7/browser-agent-project/pkg/logger"
	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
	"github.com/spf13/cobra"
)

type singleOptions struct {
	kind           string
	url            string
	urls           []string
	selectorsFile  string
	waitSelector   string
	formDataFile   string
	submitSelector string
	actionsFile    string
	prompt         string
	format         string
	priority       string
	output         string
}

func newSingleCommand(root *rootOptions) *cobra.Command {
	opts := &singleOptions{}
	cmd := &cobra.Command{
		Use:   "single",
		Short: "Run one task on a single worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingle(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.kind, "task", "", "Task type: scrape, fill_form, navigate or extract")
	f.StringVar(&opts.url, "url", "", "Target URL")
	f.StringSliceVar(&opts.urls, "urls", nil, "URLs for navigation (comma separated or repeated)")
	f.StringVar(&opts.selectorsFile, "selectors", "", "JSON file with CSS selectors")
	f.StringVar(&opts.waitSelector, "wait-selector", "", "Selector to wait for")
	f.StringVar(&opts.formDataFile, "form-data", "", "JSON file with form data")
	f.StringVar(&opts.submitSelector, "submit-selector", "", "Submit button selector")
	f.StringVar(&opts.actionsFile, "actions", "", "JSON file with navigation actions")
	f.StringVar(&opts.prompt, "prompt", "", "Extraction prompt")
	f.StringVar(&opts.format, "format", "json", "Output format for extraction")
	f.StringVar(&opts.priority, "priority", "", "Task priority")
	f.StringVarP(&opts.output, "output", "o", "output.json", "Output file")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

// spec turns the flags into a task spec, reading the JSON side files.
func (o *singleOptions) spec() (tasks.Spec, error) {
	s := tasks.Spec{
		Type:            o.kind,
		TaskID:          o.kind + "-1",
		URL:             o.url,
		URLs:            o.urls,
		WaitForSelector: o.waitSelector,
		SubmitSelector:  o.submitSelector,
		Prompt:          o.prompt,
		OutputFormat:    o.format,
	}
	if o.priority != "" {
		p, err := tasks.ParsePriority(o.priority)
		if err != nil {
			return s, err
		}
		s.Priority = p
	}
	if err := readJSON(o.selectorsFile, &s.Selectors); err != nil {
		return s, err
	}
	if err := readJSON(o.formDataFile, &s.FormData); err != nil {
		return s, err
	}
	if err := readJSON(o.actionsFile, &s.Actions); err != nil {
		return s, err
	}
	return s, nil
}

func readJSON(path string, dst any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func runSingle(cmd *cobra.Command, root *rootOptions, opts *singleOptions) error {
	ctx := cmd.Context()
	spec, err := opts.spec()
	if err != nil {
		return err
	}
	task, err := tasks.FromSpec(spec)
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, root, func(o *executor.Options) {
		o.PoolSize = 1
		o.MaxConcurrent = 1
	})
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.exec.AddTask(task); err != nil {
		return err
	}
	if err := rt.exec.Start(ctx); err != nil {
		return err
	}
	interrupted := rt.waitIdle(ctx, idlePoll*20) != nil
	rt.stop(ctx, interrupted)

	result, ok := rt.exec.Result(task.ID())
	if !ok {
		return fmt.Errorf("task %s produced no result", task.ID())
	}
	logger.Log.Info().Str("status", string(result.Status)).Msg("Task completed")

	if result.Data != nil {
		if err := tasks.SaveResults(opts.output, []tasks.Result{result}); err != nil {
			return err
		}
		logger.Log.Info().Str("file", opts.output).Msg("Results saved")
	}
	printSummary(cmd.OutOrStdout(), []tasks.Result{result}, 0)
	if result.Status != tasks.StatusCompleted {
		return fmt.Errorf("task %s %s: %s", result.TaskID, result.Status, result.Error)
	}
	return nil
}
