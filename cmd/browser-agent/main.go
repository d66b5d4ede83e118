// Command browser-agent runs prioritized web automation tasks over a
// pool of headless sessions.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kru5ty7/browser-agent-project/pkg/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
