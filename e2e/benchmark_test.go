//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"jobcore/internal/dispatcher"
	"jobcore/internal/job"
	"jobcore/internal/testutil"
	"jobcore/pkg/cloudevent"
)

// BenchmarkSequentialJobs measures the overhead of one start/settle cycle
// through the HTTP API, log polling included.
func BenchmarkSequentialJobs(b *testing.B) {
	registry := job.NewRegistry()
	registry.Register(job.Task{Type: "noop", Run: func(context.Context, job.Config) (job.Result, error) {
		return true, nil
	}})
	jobs := job.New(job.Options{LogDir: b.TempDir(), PollInterval: 50 * time.Millisecond, Registry: registry})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := jobs.Start(context.Background(), "noop", nil, 0); err != nil {
			b.Fatalf("Start failed: %v", err)
		}
	}
}

// TestConcurrentStartsSingleFlight hammers the API with parallel starts and
// checks that exactly one job ran at a time.
func TestConcurrentStartsSingleFlight(t *testing.T) {
	e := getTestEnv(t)
	e.requireLocal(t)

	const clients = 20
	var ok, busy, other atomic.Int64
	start := make(chan struct{})
	done := make(chan struct{}, clients)
	for range clients {
		go func() {
			defer func() { done <- struct{}{} }()
			<-start
			resp, err := http.Post(e.url+"/v1/jobs", "application/json", strings.NewReader(`{"taskType":"e2e-writer"}`))
			if err != nil {
				other.Add(1)
				return
			}
			resp.Body.Close()
			switch resp.StatusCode {
			case http.StatusOK:
				ok.Add(1)
			case http.StatusConflict:
				busy.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	close(start)
	for range clients {
		<-done
	}

	t.Logf("ok=%d busy=%d other=%d", ok.Load(), busy.Load(), other.Load())
	if ok.Load() < 1 {
		t.Error("Expected at least one job to run")
	}
	if ok.Load()+busy.Load() != clients {
		t.Errorf("Expected every request to either run or be rejected as busy, other=%d", other.Load())
	}
}

func TestDispatcherUnderLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping load test in short mode")
	}

	const (
		eventRate     = 1000 // events per second target
		duration      = 5    // seconds
		totalEvents   = eventRate * duration
		slowPercent   = 5   // percentage of slow callbacks
		slowLatencyMs = 500 // latency for slow callbacks
	)

	var received, slow atomic.Int64

	callbackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if received.Add(1)%int64(100/slowPercent) == 0 {
			slow.Add(1)
			time.Sleep(time.Duration(slowLatencyMs) * time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer callbackServer.Close()

	d := dispatcher.NewMemory(dispatcher.MemoryConfig{
		BufferSize:  totalEvents,
		Workers:     50,
		HTTPTimeout: 2 * time.Second,
	}, nil)
	defer d.Close(context.Background())
	publisher := dispatcher.NewPublisher(d, callbackServer.URL, "", nil)

	ticker := time.NewTicker(time.Second / time.Duration(eventRate))
	defer ticker.Stop()

	start := time.Now()
	var published atomic.Int64

	go func() {
		for i := 0; i < totalEvents; i++ {
			<-ticker.C
			publisher.Publish(cloudevent.New(job.EventTypeLog, job.EventSource, fmt.Sprintf("load-%d", i), map[string]any{"data": "line\n"}))
			published.Add(1)
		}
	}()

	testutil.WaitFor(t, func() bool {
		return published.Load() >= int64(totalEvents)
	}, testutil.WithTimeout(time.Duration(duration+5)*time.Second))

	testutil.WaitFor(t, func() bool {
		stats := d.Stats()
		return stats.Delivered+stats.Failed+stats.Dropped >= published.Load()
	}, testutil.WithTimeout(10*time.Second))

	stats := d.Stats()
	elapsed := time.Since(start)

	t.Logf("=== Dispatcher Load Test ===")
	t.Logf("Target rate:   %d events/sec for %ds", eventRate, duration)
	t.Logf("Published:     %d events", published.Load())
	t.Logf("Received:      %d callbacks", received.Load())
	t.Logf("Slow calls:    %d", slow.Load())
	t.Logf("Delivered:     %d", stats.Delivered)
	t.Logf("Failed:        %d", stats.Failed)
	t.Logf("Dropped:       %d", stats.Dropped)
	t.Logf("Retries:       %d", stats.RetriesTotal)
	t.Logf("Elapsed:       %v", elapsed)

	deliveryRate := float64(received.Load()) / float64(published.Load()) * 100
	if deliveryRate < 90 {
		t.Errorf("Expected at least 90%% delivery rate, got %.1f%%", deliveryRate)
	}
	if stats.Dropped > int64(totalEvents*0.05) {
		t.Errorf("Too many dropped events: %d (max 5%% of %d)", stats.Dropped, totalEvents)
	}
}
