// Package observability provides metrics, tracing, and logging utilities.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod    = "method"
	attrRoute     = "route"
	attrStatus    = "status"
	attrTaskType  = "task_type"
	attrJobStatus = "job_status"
	attrReason    = "reason"
	attrPipeline  = "pipeline"
	attrStep      = "step"
	attrEvent     = "event"
	attrEventType = "event_type"
	attrSuccess   = "success"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

// routeAttr expects the matched route pattern, not the raw path, so job and
// pipeline identifiers never become label values.
func routeAttr(route string) attribute.KeyValue {
	if route == "" {
		route = "unmatched"
	}
	return attribute.String(attrRoute, route)
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func taskTypeAttr(taskType string) attribute.KeyValue {
	return attribute.String(attrTaskType, taskType)
}

func statusNameAttr(status string) attribute.KeyValue {
	return attribute.String(attrJobStatus, status)
}

func reasonAttr(reason string) attribute.KeyValue {
	return attribute.String(attrReason, reason)
}

func pipelineAttr(pipeline string) attribute.KeyValue {
	return attribute.String(attrPipeline, pipeline)
}

func stepAttr(step string) attribute.KeyValue {
	return attribute.String(attrStep, step)
}

func eventAttr(event string) attribute.KeyValue {
	return attribute.String(attrEvent, event)
}

func eventTypeAttr(eventType string) attribute.KeyValue {
	return attribute.String(attrEventType, eventType)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}
