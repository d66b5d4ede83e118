package cli

import (
	"context"
	"errors"

	"github.com/kru5ty7/browser-agent-project/pkg/api"
	"github.com/kru5ty7/browser-agent-project/pkg/logger"
	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
	"github.com/spf13/cobra"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the executor with the HTTP API and configured schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, root, nil)
			if err != nil {
				return err
			}
			defer rt.close()
			if addr != "" {
				rt.cfg.API.Addr = addr
			}

			for _, s := range rt.cfg.Schedules {
				template := s.Task
				template.TaskID = ""
				id, err := rt.exec.Schedule(s.Spec, func() (tasks.Task, error) {
					return tasks.FromSpec(template)
				})
				if err != nil {
					return err
				}
				logger.Log.Info().Str("spec", s.Spec).Str("type", template.Type).Int("entry_id", int(id)).Msg("Schedule registered")
			}

			if rt.cfg.API.APIKey == "" {
				logger.Log.Warn().Msg("API_KEY not set. Authentication disabled.")
			} else {
				logger.Log.Info().Msg("API Authentication enabled.")
			}

			if err := rt.exec.Start(ctx); err != nil {
				return err
			}
			router := api.NewRouter(rt.exec, rt.store, rt.cfg.API.APIKey)
			err = api.Serve(ctx, rt.cfg.API.Addr, router)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			logger.Log.Info().Msg("Shutting down executor...")
			if stopErr := rt.exec.Stop(context.WithoutCancel(ctx)); stopErr != nil {
				logger.Log.Warn().Err(stopErr).Msg("Worker teardown reported errors")
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides api.addr)")
	return cmd
}
