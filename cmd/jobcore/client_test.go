package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobcore/internal/api"
	"jobcore/internal/health"
	"jobcore/internal/job"
)

func newTestClient(t *testing.T) *client {
	t.Helper()
	registry := job.NewRegistry()
	registry.Register(job.Task{Type: "echo", Run: func(_ context.Context, cfg job.Config) (job.Result, error) {
		return cfg, nil
	}})
	registry.Register(job.Task{Type: "fail", Run: func(context.Context, job.Config) (job.Result, error) {
		return nil, errors.New("boom")
	}})
	jobs := job.New(job.Options{LogDir: t.TempDir(), PollInterval: 50 * time.Millisecond, Registry: registry})

	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Jobs:          jobs,
		HealthChecker: health.NewChecker(nil),
		APIKey:        "secret",
	}))
	t.Cleanup(srv.Close)
	return &client{addr: srv.URL + "/", apiKey: "secret", http: srv.Client()}
}

func TestClient_Run(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)
	var out bytes.Buffer

	err := c.run(context.Background(), job.Request{TaskType: "echo", Config: job.Config{"target": "Survived"}}, &out)
	require.NoError(t, err)

	var outcome job.Outcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &outcome))
	assert.Equal(t, job.StatusSucceeded, outcome.Status)
	assert.Equal(t, map[string]any{"target": "Survived"}, outcome.Result)
}

func TestClient_RunFailure(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)
	var out bytes.Buffer

	err := c.run(context.Background(), job.Request{TaskType: "fail"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, out.String(), `"code": "task_failed"`)
}

func TestClient_TailIdle(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)
	var out, errOut bytes.Buffer

	require.NoError(t, c.tail(context.Background(), &out, &errOut))
	assert.Empty(t, out.String())
	assert.Equal(t, "no job has run yet\n", errOut.String())
}

func TestClient_BadKey(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)
	c.apiKey = "wrong"

	err := c.tail(context.Background(), &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
