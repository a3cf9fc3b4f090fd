package workflow

import (
	"jobcore/internal/job"
	"jobcore/pkg/cloudevent"
)

// EventTypeTransition is emitted for every step state change.
const EventTypeTransition = "jobcore.step.transition"

func buildTransitionEvent(pipeline string, t Transition) *cloudevent.CloudEvent {
	return cloudevent.New(EventTypeTransition, job.EventSource, pipeline, map[string]any{
		"pipeline": pipeline,
		"step":     t.Step,
		"name":     t.Name,
		"from":     string(t.From),
		"to":       string(t.To),
		"op":       t.Op,
		"event":    string(t.Event),
		"at":       t.At,
	})
}
