package job

import (
	"jobcore/pkg/cloudevent"
)

// EventSource is the CloudEvents source of every jobcore event.
const EventSource = "jobcore"

// Event types for job lifecycle callbacks
const (
	EventTypeStart = "jobcore.job.start"
	EventTypeLog   = "jobcore.job.log"
	EventTypeExit  = "jobcore.job.exit"
)

// EventBuilder builds CloudEvents for one job.
type EventBuilder struct {
	jobID    string
	taskType string
}

// NewEventBuilder creates a new EventBuilder.
func NewEventBuilder(jobID, taskType string) *EventBuilder {
	return &EventBuilder{jobID: jobID, taskType: taskType}
}

func (b *EventBuilder) build(eventType string, data map[string]any) *cloudevent.CloudEvent {
	data["jobId"] = b.jobID
	data["taskType"] = b.taskType
	return cloudevent.New(eventType, EventSource, b.jobID, data)
}

// BuildStartEvent creates a job start event.
func (b *EventBuilder) BuildStartEvent(deadlineSeconds float64) *cloudevent.CloudEvent {
	data := map[string]any{}
	if deadlineSeconds > 0 {
		data["deadlineSeconds"] = deadlineSeconds
	}
	return b.build(EventTypeStart, data)
}

// BuildLogEvent creates a log event carrying one chunk.
func (b *EventBuilder) BuildLogEvent(chunk Chunk) *cloudevent.CloudEvent {
	return b.build(EventTypeLog, map[string]any{
		"path":   chunk.Path,
		"offset": chunk.Offset,
		"data":   chunk.Data,
	})
}

// BuildExitEvent creates an exit event.
func (b *EventBuilder) BuildExitEvent(outcome Outcome) *cloudevent.CloudEvent {
	data := map[string]any{
		"status":          string(outcome.Status),
		"durationSeconds": outcome.Duration.Seconds(),
	}
	if outcome.Error != "" {
		data["error"] = outcome.Error
	}
	if outcome.LogPath != "" {
		data["logPath"] = outcome.LogPath
	}
	return b.build(EventTypeExit, data)
}
