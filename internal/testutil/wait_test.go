package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"jobcore/pkg/cloudevent"
)

func TestWaitFor_ImmediateSuccess(t *testing.T) {
	t.Parallel()
	if !WaitFor(t, func() bool { return true }, WithTimeout(time.Second)) {
		t.Error("expected WaitFor to return true for immediate success")
	}
}

func TestWaitFor_EventualSuccess(t *testing.T) {
	t.Parallel()
	counter := 0
	result := WaitFor(t, func() bool {
		counter++
		return counter >= 3
	}, WithTimeout(time.Second), WithInterval(time.Millisecond))

	if !result {
		t.Error("expected WaitFor to return true for eventual success")
	}
	if counter < 3 {
		t.Errorf("expected counter >= 3, got %d", counter)
	}
}

func TestWaitFor_Timeout(t *testing.T) {
	t.Parallel()
	result := WaitFor(t, func() bool {
		return false
	}, WithTimeout(50*time.Millisecond), WithInterval(10*time.Millisecond))

	if result {
		t.Error("expected WaitFor to return false on timeout")
	}
}

func TestMustWaitForCount(t *testing.T) {
	t.Parallel()
	var counter atomic.Int64

	go func() {
		for range 5 {
			time.Sleep(5 * time.Millisecond)
			counter.Add(1)
		}
	}()

	MustWaitForCount(t, &counter, 5, WithTimeout(time.Second))
}

func TestWriteLogSetsModTime(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)

	path := WriteLog(t, dir, "app_log_1.md", "hello", mtime)
	AppendLog(t, path, " world")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Errorf("content = %q", data)
	}

	Touch(t, path, mtime)
	info, err := os.Stat(filepath.Join(dir, "app_log_1.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(mtime) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), mtime)
	}
}

func TestEventSinkRecords(t *testing.T) {
	t.Parallel()
	sink := NewEventSink(t)
	sender := cloudevent.NewSender(time.Second)

	for _, typ := range []string{"a", "b"} {
		if err := sender.Send(context.Background(), sink.URL, cloudevent.New(typ, "test", "s", nil), ""); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	if got := strings.Join(sink.Types(), ","); got != "a,b" {
		t.Errorf("Types() = %q, want %q", got, "a,b")
	}
}
