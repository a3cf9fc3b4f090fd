package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"jobcore/internal/config"
	"jobcore/internal/job"
)

// client talks to a running jobcore server.
type client struct {
	addr   string
	apiKey string
	http   *http.Client
}

func setupClientCommands(rootCmd *cobra.Command) {
	c := &client{http: &http.Client{}}
	rootCmd.PersistentFlags().StringVar(&c.addr, "addr", config.GetEnv("JOBCORE_ADDR", "http://localhost:8080"), "jobcore server address")
	rootCmd.PersistentFlags().StringVar(&c.apiKey, "api-key", config.GetSecretFile(config.GetEnv("API_KEY_FILE", "")), "API key sent as a bearer token")

	var (
		settings   map[string]string
		configJSON string
		deadline   time.Duration
	)
	runCmd := &cobra.Command{
		Use:   "run <task-type>",
		Short: "Start a job and wait for it to settle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := job.Config{}
			if configJSON != "" {
				if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
					return fmt.Errorf("parsing --config: %w", err)
				}
			}
			for k, v := range settings {
				cfg[k] = v
			}
			req := job.Request{TaskType: args[0], Config: cfg, DeadlineSeconds: int(deadline.Seconds())}
			return c.run(cmd.Context(), req, cmd.OutOrStdout())
		},
	}
	runCmd.Flags().StringToStringVar(&settings, "set", nil, "config entry as key=value, repeatable")
	runCmd.Flags().StringVar(&configJSON, "config", "", "config as a JSON object")
	runCmd.Flags().DurationVar(&deadline, "deadline", 0, "job deadline, whole seconds (0 for none)")

	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream the running job's log until it settles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.tail(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	rootCmd.AddCommand(runCmd, tailCmd)
}

func (c *client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.addr, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.http.Do(req)
}

// run starts a job, prints the response body and fails on any non-200 status.
func (c *client) run(ctx context.Context, req job.Request, out io.Writer) error {
	resp, err := c.do(ctx, http.MethodPost, "/v1/jobs", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	var body bytes.Buffer
	if err := json.Indent(&body, raw, "", "  "); err != nil {
		return fmt.Errorf("unexpected response (%s): %w", resp.Status, err)
	}
	body.WriteByte('\n')
	if _, err := body.WriteTo(out); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("job did not succeed: %s", resp.Status)
	}
	return nil
}

// tail copies chunk data to out as it arrives and reports the final status
// on errOut.
func (c *client) tail(ctx context.Context, out, errOut io.Writer) error {
	resp, err := c.do(ctx, http.MethodGet, "/v1/jobs/current/tail", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tail failed: %s", resp.Status)
	}

	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			event = name
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		switch event {
		case "chunk":
			var chunk job.Chunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return fmt.Errorf("decoding chunk: %w", err)
			}
			if _, err := io.WriteString(out, chunk.Data); err != nil {
				return err
			}
		case "end":
			var snap job.Snapshot
			if err := json.Unmarshal([]byte(data), &snap); err != nil {
				return fmt.Errorf("decoding end event: %w", err)
			}
			if snap.JobID == "" {
				fmt.Fprintln(errOut, "no job has run yet")
				return nil
			}
			fmt.Fprintf(errOut, "job %s %s\n", snap.JobID, snap.Status)
			return nil
		}
	}
	return scanner.Err()
}
