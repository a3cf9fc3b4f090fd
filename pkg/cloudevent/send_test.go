package cloudevent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewAssignsIDs(t *testing.T) {
	t.Parallel()
	a := New("jobcore.job.start", "jobcore", "job-1", nil)
	b := New("jobcore.job.start", "jobcore", "job-1", nil)

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct non-empty ids, got %q and %q", a.ID, b.ID)
	}
	if a.SpecVersion != "1.0" {
		t.Errorf("expected specversion 1.0, got %q", a.SpecVersion)
	}
}

func TestSenderSend(t *testing.T) {
	t.Parallel()
	var (
		gotHeaders http.Header
		gotBody    []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	event := New("jobcore.job.exit", "jobcore", "job-7", map[string]any{"status": "succeeded"})
	if err := NewSender(time.Second).Send(context.Background(), srv.URL, event, "secret"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if gotHeaders.Get("Ce-Type") != "jobcore.job.exit" {
		t.Errorf("Ce-Type = %q", gotHeaders.Get("Ce-Type"))
	}
	if gotHeaders.Get("Ce-Subject") != "job-7" {
		t.Errorf("Ce-Subject = %q", gotHeaders.Get("Ce-Subject"))
	}
	if want := Signature(gotBody, "secret"); gotHeaders.Get(SignatureHeader) != want {
		t.Errorf("signature = %q, want %q", gotHeaders.Get(SignatureHeader), want)
	}

	var decoded CloudEvent
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("body is not a CloudEvent: %v", err)
	}
	if decoded.Data["status"] != "succeeded" {
		t.Errorf("unexpected data: %v", decoded.Data)
	}
}

func TestSenderSendUnsigned(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(SignatureHeader) != "" {
			t.Error("did not expect a signature header")
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewSender(time.Second).Send(context.Background(), srv.URL, New("t", "s", "x", nil), "")
	if !IsClientError(err) {
		t.Errorf("expected client error, got %v", err)
	}
}

func TestIsClientError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"400 Bad Request", &HTTPError{StatusCode: 400}, true},
		{"404 Not Found", &HTTPError{StatusCode: 404}, true},
		{"499 client error boundary", &HTTPError{StatusCode: 499}, true},
		{"wrapped 401", fmt.Errorf("send: %w", &HTTPError{StatusCode: 401}), true},
		{"500 Internal Server Error", &HTTPError{StatusCode: 500}, false},
		{"399 not a client error", &HTTPError{StatusCode: 399}, false},
		{"non-HTTP error", context.DeadlineExceeded, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsClientError(tt.err); got != tt.expected {
				t.Errorf("IsClientError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestSignature(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"test":"data"}`)

	sig := Signature(payload, "secret-key")
	if !strings.HasPrefix(sig, "sha256=") || len(sig) != len("sha256=")+64 {
		t.Errorf("unexpected signature format %q", sig)
	}
	if sig != Signature(payload, "secret-key") {
		t.Error("signature should be deterministic")
	}
	if sig == Signature(payload, "different-key") {
		t.Error("different keys should produce different signatures")
	}
}
