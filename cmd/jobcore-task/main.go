// jobcore-task runs a command and tees its output into a fresh progress log
// in the directory jobcore follows, so any program can be a jobcore task.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"jobcore/internal/config"
	"jobcore/internal/observability"
	"jobcore/internal/tasklog"
)

func main() {
	slog.SetDefault(observability.NewLogger(os.Stderr,
		config.GetEnv("JOBCORE_LOG_FORMAT", "json"),
		config.GetEnv("JOBCORE_LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stop()
			os.Exit(exitErr.ExitCode())
		}
		slog.Error("Task failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// options are the shim's flags.
type options struct {
	logDir     string
	resultFile string
	title      string
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:           "jobcore-task [flags] -- command [args...]",
		Short:         "Run a command as a jobcore task",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.logDir, "log-dir", config.GetEnv("JOBCORE_LOG_DIR", config.DefaultLogDir()), "directory for the progress log")
	cmd.Flags().StringVar(&opts.resultFile, "result-file", config.GetEnv("JOBCORE_RESULT_FILE", ""), "where to write a result when the command leaves none")
	cmd.Flags().StringVar(&opts.title, "title", "", "heading written at the top of the log")
	return cmd
}

func run(ctx context.Context, opts options, args []string, stdout, stderr io.Writer) error {
	if err := os.MkdirAll(opts.logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	logw, err := tasklog.Open(opts.logDir)
	if err != nil {
		return err
	}
	defer logw.Close()

	title := opts.title
	if title == "" {
		title = strings.Join(args, " ")
	}
	if err := logw.Printf("# %s\n", title); err != nil {
		return err
	}

	logger := slog.With("command", args[0], "logPath", logw.Path())
	logger.Info("Task started")
	start := time.Now()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = io.MultiWriter(stdout, logw)
	cmd.Stderr = io.MultiWriter(stderr, logw)
	cmd.Env = os.Environ()
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 10 * time.Second

	runErr := cmd.Run()
	duration := time.Since(start)
	if runErr != nil {
		_ = logw.Printf("\n**Task failed:** %v\n", runErr)
		logger.Warn("Task exited", "duration", duration, "error", runErr)
		return runErr
	}
	_ = logw.Printf("\n**Task finished** in %s\n", duration.Round(time.Millisecond))
	logger.Info("Task exited", "duration", duration)

	return writeDefaultResult(opts.resultFile, args, duration)
}

// writeDefaultResult records a minimal result when the command succeeded
// without writing one itself.
func writeDefaultResult(path string, args []string, duration time.Duration) error {
	if path == "" {
		return nil
	}
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return nil
	}
	data, err := json.Marshal(map[string]any{
		"command":    args,
		"exitCode":   0,
		"durationMs": duration.Milliseconds(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
