//go:build e2e

package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"jobcore/internal/api"
	"jobcore/internal/dispatcher"
	"jobcore/internal/health"
	"jobcore/internal/job"
	"jobcore/internal/pipeline"
	"jobcore/internal/tasklog"
	"jobcore/internal/testutil"
	"jobcore/internal/workflow"
)

const e2ePipelines = `
pipelines:
  e2e:
    task_type: e2e-writer
    steps:
      - name: first
        label: "1. First"
        produces: first
      - name: second
        label: "2. Second"
        requires: [first]
`

// env is a jobcore API under test. jobs is nil when running against an
// external instance.
type env struct {
	url  string
	jobs *job.Orchestrator
	sink *testutil.EventSink
}

// getTestEnv returns the API under test.
// If E2E_API_URL is set, tests run against that instance.
// Otherwise, a test server is created.
func getTestEnv(t *testing.T) *env {
	t.Helper()
	if url := os.Getenv("E2E_API_URL"); url != "" {
		t.Logf("Using external API: %s", url)
		return &env{url: url}
	}
	return createTestServer(t)
}

func (e *env) requireLocal(t *testing.T) {
	t.Helper()
	if e.jobs == nil {
		t.Skip("needs the in-process task types")
	}
}

func createTestServer(t *testing.T) *env {
	t.Helper()
	logDir := t.TempDir()
	sink := testutil.NewEventSink(t)

	eventDispatcher := dispatcher.NewMemory(dispatcher.MemoryConfig{
		BufferSize: 100,
		Workers:    2,
	}, nil)
	publisher := dispatcher.NewPublisher(eventDispatcher, sink.URL, "e2e-key", nil)

	registry := job.NewRegistry()
	registry.Register(job.Task{Type: "e2e-writer", Run: func(ctx context.Context, cfg job.Config) (job.Result, error) {
		w, err := tasklog.Open(logDir)
		if err != nil {
			return nil, err
		}
		defer w.Close()
		for _, line := range []string{"## Loading data", "## Training", "## Done"} {
			if err := w.Printf("%s", line); err != nil {
				return nil, err
			}
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return map[string]any{"step": cfg["step"], "lines": 3}, nil
	}})
	registry.Register(job.Task{Type: "e2e-block", Run: func(ctx context.Context, _ job.Config) (job.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}})

	jobs := job.New(job.Options{
		LogDir:       logDir,
		PollInterval: 50 * time.Millisecond,
		Registry:     registry,
		Publisher:    publisher,
	})

	f, err := pipeline.Parse([]byte(e2ePipelines))
	if err != nil {
		t.Fatalf("Failed to parse pipelines: %v", err)
	}
	pipelines, err := pipeline.NewManager(f, registry, workflow.Config{Launcher: jobs, Publisher: publisher})
	if err != nil {
		t.Fatalf("Failed to create pipelines: %v", err)
	}

	server := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Jobs:          jobs,
		Pipelines:     pipelines,
		HealthChecker: health.NewChecker(map[string]health.ReadinessChecker{"logdir": health.LogDirCheck(logDir)}),
	}))

	t.Cleanup(func() {
		_ = jobs.Cancel()
		server.Close()
		// Drain dispatcher so pending callbacks can be delivered
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eventDispatcher.Close(ctx)
	})

	return &env{url: server.URL, jobs: jobs, sink: sink}
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func TestAPI_Readyz(t *testing.T) {
	e := getTestEnv(t)

	resp, err := http.Get(e.url + "/readyz")
	if err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result health.Response
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Status != health.StatusHealthy {
		t.Errorf("Expected healthy status, got %s", result.Status)
	}
}

func TestAPI_Livez(t *testing.T) {
	e := getTestEnv(t)

	resp, err := http.Get(e.url + "/livez")
	if err != nil {
		t.Fatalf("Liveness check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestAPI_RunTailAndFinalLog(t *testing.T) {
	e := getTestEnv(t)
	e.requireLocal(t)

	done := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Post(e.url+"/v1/jobs", "application/json", strings.NewReader(`{"taskType":"e2e-writer"}`))
		if err != nil {
			t.Errorf("Start job failed: %v", err)
			done <- nil
			return
		}
		done <- resp
	}()
	testutil.MustWaitFor(t, func() bool { return e.jobs.Current().Status == job.StatusRunning })

	resp, err := http.Get(e.url + "/v1/jobs/current/tail")
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	defer resp.Body.Close()

	var (
		tailed strings.Builder
		event  string
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			event = name
			continue
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok && event == "chunk" {
			var chunk job.Chunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				t.Fatalf("Bad chunk: %v", err)
			}
			tailed.WriteString(chunk.Data)
		}
	}

	startResp := <-done
	if startResp == nil {
		t.FailNow()
	}
	defer startResp.Body.Close()
	if startResp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", startResp.StatusCode)
	}

	logResp, err := http.Get(e.url + "/v1/jobs/current/log")
	if err != nil {
		t.Fatalf("Final log failed: %v", err)
	}
	defer logResp.Body.Close()
	var final bytes.Buffer
	final.ReadFrom(logResp.Body)

	// The tail may attach after the first line was written.
	if !strings.HasSuffix(final.String(), tailed.String()) || !strings.Contains(tailed.String(), "## Done") {
		t.Errorf("Tailed %q is not the end of the final log %q", tailed.String(), final.String())
	}
	if final.String() != "## Loading data\n## Training\n## Done\n" {
		t.Errorf("Unexpected final log %q", final.String())
	}
}

func TestAPI_BusyAndCancel(t *testing.T) {
	e := getTestEnv(t)
	e.requireLocal(t)

	first := make(chan int, 1)
	go func() {
		resp, err := http.Post(e.url+"/v1/jobs", "application/json", strings.NewReader(`{"taskType":"e2e-block"}`))
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()
	testutil.MustWaitFor(t, func() bool { return e.jobs.Current().Status == job.StatusRunning })

	resp := post(t, e.url+"/v1/jobs", map[string]any{"taskType": "e2e-writer"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected busy status 409, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, e.url+"/v1/jobs/current", nil)
	cancelResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	cancelResp.Body.Close()
	if cancelResp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", cancelResp.StatusCode)
	}

	if code := <-first; code != 499 {
		t.Errorf("Expected cancelled job to answer 499, got %d", code)
	}
	if status := e.jobs.Current().Status; status != job.StatusCancelled {
		t.Errorf("Expected cancelled status, got %s", status)
	}
}

func TestAPI_JobWithCallbacks(t *testing.T) {
	e := getTestEnv(t)
	e.requireLocal(t)

	resp := post(t, e.url+"/v1/jobs", map[string]any{"taskType": "e2e-writer"})
	resp.Body.Close()

	testutil.MustWaitFor(t, func() bool {
		types := e.sink.Types()
		return len(types) > 0 && types[len(types)-1] == job.EventTypeExit
	}, testutil.WithTimeout(10*time.Second))

	types := e.sink.Types()
	t.Logf("Received %d callback events: %v", len(types), types)
	if types[0] != job.EventTypeStart {
		t.Errorf("Expected first event %s, got %s", job.EventTypeStart, types[0])
	}
	logs := 0
	for _, typ := range types {
		if typ == job.EventTypeLog {
			logs++
		}
	}
	if logs == 0 {
		t.Error("Expected at least one log event")
	}
}

func TestAPI_Workflow(t *testing.T) {
	e := getTestEnv(t)
	e.requireLocal(t)

	for _, step := range []string{"0", "1"} {
		resp := post(t, e.url+"/v1/workflows/e2e/steps/"+step+"/run", nil)
		var body struct {
			Success *bool  `json:"success"`
			Error   string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || body.Success == nil || !*body.Success {
			t.Fatalf("Step %s: status %d, body %+v", step, resp.StatusCode, body)
		}
	}

	resp, err := http.Get(e.url + "/v1/workflows/e2e")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var view struct {
		State workflow.State `json:"state"`
	}
	json.NewDecoder(resp.Body).Decode(&view)
	for i, st := range view.State.Steps {
		if st != workflow.StepCompleted {
			t.Errorf("Step %d is %s, expected completed", i, st)
		}
	}

	testutil.MustWaitFor(t, func() bool {
		for _, typ := range e.sink.Types() {
			if typ == "jobcore.step.transition" {
				return true
			}
		}
		return false
	})
}

func TestAPI_InvalidJobRequest(t *testing.T) {
	e := getTestEnv(t)

	resp := post(t, e.url+"/v1/jobs", map[string]any{"config": map[string]any{"path": "x"}})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
	var body struct {
		Code  string `json:"code"`
		Field string `json:"field"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Bad error body: %v", err)
	}
	if body.Code != "validation" || body.Field != "taskType" {
		t.Errorf("Unexpected error body %+v", body)
	}
}
