package dispatcher

import (
	"errors"
	"log/slog"
	"slices"

	"jobcore/pkg/cloudevent"
)

// Publisher sends events to a single configured callback. A nil Publisher, or
// one without a destination, silently discards events so callers never need
// to check whether callbacks are enabled.
type Publisher struct {
	dispatcher  Dispatcher
	destination string
	signingKey  string
	events      []string
}

// NewPublisher returns a Publisher for destination. It returns nil when
// either the dispatcher or the destination is missing. A non-empty events
// list restricts delivery to those event types.
func NewPublisher(d Dispatcher, destination, signingKey string, events []string) *Publisher {
	if d == nil || destination == "" {
		return nil
	}
	return &Publisher{dispatcher: d, destination: destination, signingKey: signingKey, events: events}
}

// Wants reports whether events of eventType are delivered. Callers use it to
// skip building payloads nobody receives.
func (p *Publisher) Wants(eventType string) bool {
	if p == nil {
		return false
	}
	return len(p.events) == 0 || slices.Contains(p.events, eventType)
}

// Publish queues event for delivery. Queueing failures are logged, never returned.
func (p *Publisher) Publish(event *cloudevent.CloudEvent) {
	if event == nil || !p.Wants(event.Type) {
		return
	}
	err := p.dispatcher.Dispatch(&Event{
		Payload:     event,
		Destination: p.destination,
		SigningKey:  p.signingKey,
	})
	if err != nil && !errors.Is(err, ErrBufferFull) {
		// ErrBufferFull is already logged by the dispatcher.
		slog.Warn("Event not queued", "type", event.Type, "error", err)
	}
}
