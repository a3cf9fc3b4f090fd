package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"jobcore/pkg/cloudevent"
)

// EventSink is an HTTP endpoint that records the CloudEvents posted to it.
type EventSink struct {
	*httptest.Server

	mu     sync.Mutex
	events []cloudevent.CloudEvent
}

// NewEventSink starts a recording server that is closed with the test.
func NewEventSink(tb testing.TB) *EventSink {
	tb.Helper()
	s := &EventSink{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event cloudevent.CloudEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.events = append(s.events, event)
		s.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	tb.Cleanup(s.Close)
	return s
}

// Events returns a copy of everything received so far.
func (s *EventSink) Events() []cloudevent.CloudEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cloudevent.CloudEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Types returns the received event types in arrival order.
func (s *EventSink) Types() []string {
	events := s.Events()
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}
