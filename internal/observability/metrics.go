package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/jobs take
// - Traffic: Request/job throughput
// - Errors: Rate of failures and busy rejections
// - Saturation: Occupied job slot and tail subscribers
//
// All Record methods are safe on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Job metrics
	JobDuration            metric.Float64Histogram
	JobsTotal              metric.Int64Counter
	JobErrorsTotal         metric.Int64Counter
	JobsActive             metric.Int64UpDownCounter
	BusyRejections         metric.Int64Counter
	LogBytesTailed         metric.Int64Counter
	TailSubscribers        metric.Int64UpDownCounter
	TailSubscribersDropped metric.Int64Counter

	// Workflow metrics
	WorkflowTransitions metric.Int64Counter
	WorkflowRuns        metric.Int64Counter

	// Event delivery metrics
	EventDeliveryDuration metric.Float64Histogram
	EventsDelivered       metric.Int64Counter
	EventsFailed          metric.Int64Counter
	EventsDropped         metric.Int64Counter
}

// NewMetrics creates all metrics backed by a Prometheus exporter with its own
// registry and installs the provider globally. The returned handler serves
// the registry in the Prometheus text format.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter("jobcore"))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// NewMetricsWithReader creates metrics backed by reader without touching the
// global provider. Tests pass an sdkmetric.ManualReader to collect values.
func NewMetricsWithReader(reader sdkmetric.Reader) (*Metrics, error) {
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return newMetrics(provider.Meter("jobcore"))
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}
	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	); err != nil {
		return nil, err
	}

	// Training runs take minutes, not seconds.
	if m.JobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Job execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600),
	); err != nil {
		return nil, err
	}
	if m.JobsTotal, err = meter.Int64Counter(
		"jobs_total",
		metric.WithDescription("Total number of jobs started"),
	); err != nil {
		return nil, err
	}
	if m.JobErrorsTotal, err = meter.Int64Counter(
		"job_errors_total",
		metric.WithDescription("Total number of jobs that did not succeed, by reason"),
	); err != nil {
		return nil, err
	}
	if m.JobsActive, err = meter.Int64UpDownCounter(
		"jobs_active",
		metric.WithDescription("Number of running jobs (0 or 1)"),
	); err != nil {
		return nil, err
	}
	if m.BusyRejections, err = meter.Int64Counter(
		"job_busy_rejections_total",
		metric.WithDescription("Start requests rejected because a job was already running"),
	); err != nil {
		return nil, err
	}
	if m.LogBytesTailed, err = meter.Int64Counter(
		"log_bytes_tailed_total",
		metric.WithDescription("Bytes read from task log files"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.TailSubscribers, err = meter.Int64UpDownCounter(
		"tail_subscribers",
		metric.WithDescription("Open log tail subscriptions"),
	); err != nil {
		return nil, err
	}
	if m.TailSubscribersDropped, err = meter.Int64Counter(
		"tail_subscribers_dropped_total",
		metric.WithDescription("Tail subscriptions closed because the subscriber fell behind"),
	); err != nil {
		return nil, err
	}

	if m.WorkflowTransitions, err = meter.Int64Counter(
		"workflow_transitions_total",
		metric.WithDescription("Step state transitions, by event"),
	); err != nil {
		return nil, err
	}
	if m.WorkflowRuns, err = meter.Int64Counter(
		"workflow_step_runs_total",
		metric.WithDescription("Step executions, by outcome"),
	); err != nil {
		return nil, err
	}

	if m.EventDeliveryDuration, err = meter.Float64Histogram(
		"event_delivery_duration_seconds",
		metric.WithDescription("Callback delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}
	if m.EventsDelivered, err = meter.Int64Counter(
		"events_delivered_total",
		metric.WithDescription("Events successfully delivered"),
	); err != nil {
		return nil, err
	}
	if m.EventsFailed, err = meter.Int64Counter(
		"events_failed_total",
		metric.WithDescription("Events failed after retries"),
	); err != nil {
		return nil, err
	}
	if m.EventsDropped, err = meter.Int64Counter(
		"events_dropped_total",
		metric.WithDescription("Events dropped because the buffer was full"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(methodAttr(method), routeAttr(route), statusAttr(statusCode))

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobStarted records a job taking the slot.
func (m *Metrics) RecordJobStarted(ctx context.Context, taskType string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(taskTypeAttr(taskType))
	m.JobsTotal.Add(ctx, 1, attrs)
	m.JobsActive.Add(ctx, 1)
}

// RecordJobSettled records a job releasing the slot. reason is empty on success.
func (m *Metrics) RecordJobSettled(ctx context.Context, taskType, status, reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobDuration.Record(ctx, durationSeconds, metric.WithAttributes(taskTypeAttr(taskType), statusNameAttr(status)))
	m.JobsActive.Add(ctx, -1)
	if reason != "" {
		m.JobErrorsTotal.Add(ctx, 1, metric.WithAttributes(taskTypeAttr(taskType), reasonAttr(reason)))
	}
}

// RecordBusyRejection records a start refused because the slot was taken.
func (m *Metrics) RecordBusyRejection(ctx context.Context, taskType string) {
	if m == nil {
		return
	}
	m.BusyRejections.Add(ctx, 1, metric.WithAttributes(taskTypeAttr(taskType)))
}

// RecordLogBytes records bytes delivered from a log file.
func (m *Metrics) RecordLogBytes(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LogBytesTailed.Add(ctx, int64(n))
}

// RecordTailSubscribed records a new tail subscriber.
func (m *Metrics) RecordTailSubscribed(ctx context.Context) {
	if m == nil {
		return
	}
	m.TailSubscribers.Add(ctx, 1)
}

// RecordTailUnsubscribed records a closed tail subscription.
func (m *Metrics) RecordTailUnsubscribed(ctx context.Context, dropped bool) {
	if m == nil {
		return
	}
	m.TailSubscribers.Add(ctx, -1)
	if dropped {
		m.TailSubscribersDropped.Add(ctx, 1)
	}
}

// RecordTransition records a workflow step transition.
func (m *Metrics) RecordTransition(ctx context.Context, pipeline, event string) {
	if m == nil {
		return
	}
	m.WorkflowTransitions.Add(ctx, 1, metric.WithAttributes(pipelineAttr(pipeline), eventAttr(event)))
}

// RecordStepRun records the outcome of running one workflow step.
func (m *Metrics) RecordStepRun(ctx context.Context, pipeline, step string, success bool) {
	if m == nil {
		return
	}
	m.WorkflowRuns.Add(ctx, 1, metric.WithAttributes(pipelineAttr(pipeline), stepAttr(step), successAttr(success)))
}

// RecordEventDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordEventDelivered(ctx context.Context, eventType string, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(eventTypeAttr(eventType))
	m.EventsDelivered.Add(ctx, 1, attrs)
	m.EventDeliveryDuration.Record(ctx, durationSeconds, attrs)
}

// RecordEventFailed records a failed event delivery.
func (m *Metrics) RecordEventFailed(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.EventsFailed.Add(ctx, 1, metric.WithAttributes(eventTypeAttr(eventType)))
}

// RecordEventDropped records a dropped event.
func (m *Metrics) RecordEventDropped(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.EventsDropped.Add(ctx, 1, metric.WithAttributes(eventTypeAttr(eventType)))
}
