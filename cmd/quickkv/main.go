// Command quickkv reads and writes quickkv tables from the shell
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/neogan74/quickkv/internal/config"
)

func main() {
	config.LoadDotEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
