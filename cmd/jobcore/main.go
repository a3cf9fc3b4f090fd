// jobcore runs the single-flight job API and talks to it from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jobcore/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "jobcore",
	Short:         "Run one external task at a time and follow its progress log",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd.AddCommand(newServeCmd())
	setupClientCommands(rootCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
