package cli

import (
	"github.com/alicebob/miniredis/v2"
	"github.com/kru5ty7/browser-agent-project/pkg/logger"
	"github.com/spf13/cobra"
)

// newDevRedisCommand runs an in-memory Redis for local development, so
// serve can publish results without a real server.
func newDevRedisCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "dev-redis",
		Short: "Run an in-memory Redis server for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := miniredis.NewMiniRedis()
			if err := s.StartAddr(addr); err != nil {
				return err
			}
			defer s.Close()

			logger.Log.Info().Str("addr", s.Addr()).Msg("MiniRedis server started")
			<-cmd.Context().Done()
			logger.Log.Info().Msg("Shutting down MiniRedis...")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:6379", "Listen address")
	return cmd
}
