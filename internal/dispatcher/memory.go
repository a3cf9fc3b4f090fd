package dispatcher

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"jobcore/pkg/backoff"
	"jobcore/pkg/cloudevent"
)

// MemoryDispatcher is an in-memory async event dispatcher.
// Events are queued in a bounded channel and delivered by a worker pool.
// If the buffer is full, events are dropped (logged + metric incremented).
type MemoryDispatcher struct {
	queue   chan *Event
	sender  *cloudevent.Sender
	config  MemoryConfig
	logger  *slog.Logger
	metrics MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// MetricsRecorder is an optional interface for recording dispatcher metrics.
type MetricsRecorder interface {
	RecordEventDelivered(ctx context.Context, eventType string, durationSeconds float64)
	RecordEventFailed(ctx context.Context, eventType string)
	RecordEventDropped(ctx context.Context, eventType string)
}

// NewMemory creates a new in-memory dispatcher and starts its workers.
func NewMemory(cfg MemoryConfig, metrics MetricsRecorder) *MemoryDispatcher {
	cfg = cfg.withDefaults()

	d := &MemoryDispatcher{
		queue:    make(chan *Event, cfg.BufferSize),
		sender:   cloudevent.NewSender(cfg.HTTPTimeout),
		config:   cfg,
		logger:   slog.With("component", "dispatcher"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}

	d.logger.Info("Dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return d
}

// Dispatch queues an event for async delivery.
func (d *MemoryDispatcher) Dispatch(event *Event) error {
	if d.closed.Load() {
		return ErrClosed
	}

	select {
	case d.queue <- event:
		d.queued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		if d.metrics != nil {
			d.metrics.RecordEventDropped(context.Background(), event.Payload.Type)
		}
		d.logger.Warn("Event dropped, buffer full",
			"destination", extractHost(event.Destination),
			"type", event.Payload.Type,
		)
		return ErrBufferFull
	}
}

// Stats returns current dispatcher statistics.
func (d *MemoryDispatcher) Stats() Stats {
	return Stats{
		QueueDepth:   len(d.queue),
		Queued:       d.queued.Load(),
		Delivered:    d.delivered.Load(),
		Failed:       d.failed.Load(),
		Dropped:      d.dropped.Load(),
		RetriesTotal: d.retriesTotal.Load(),
	}
}

// Close gracefully shuts down the dispatcher.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}

	d.logger.Info("Dispatcher shutting down", "queued", len(d.queue))
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher shutdown complete",
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdown:
			d.drainQueue()
			return
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

// drainQueue delivers remaining events after shutdown signal.
func (d *MemoryDispatcher) drainQueue() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *MemoryDispatcher) deliver(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.DeliveryTimeout)
	defer cancel()

	start := time.Now()
	retries, err := backoff.Retry(ctx, d.config.MaxRetries, &d.config.Backoff, func(ctx context.Context) error {
		err := d.sender.Send(ctx, event.Destination, event.Payload, event.SigningKey)
		if cloudevent.IsClientError(err) {
			return backoff.Permanent(err)
		}
		return err
	})
	d.retriesTotal.Add(int64(retries))

	if err != nil {
		d.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordEventFailed(ctx, event.Payload.Type)
		}
		d.logger.Warn("Delivery failed",
			"destination", extractHost(event.Destination),
			"type", event.Payload.Type,
			"retries", retries,
			"error", err,
		)
		return
	}

	d.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordEventDelivered(ctx, event.Payload.Type, time.Since(start).Seconds())
	}
}

// extractHost keeps callback paths (which may carry tokens) out of logs.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
