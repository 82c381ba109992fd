package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/tablepos/internal/domain"
)

const (
	defaultQueueSize      = 256
	defaultPublishTimeout = 5 * time.Second
)

type queuedEvent struct {
	ctx   context.Context
	event domain.Event
}

// Dispatcher delivers domain events through a Publisher from a background
// goroutine. Dispatch only enqueues, so a slow or hung transport never holds
// up the request that produced the events. Failures are logged and counted,
// never returned: the change behind an event is already committed and
// displays recover by re-fetching.
type Dispatcher struct {
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration
	queueSize int

	mu     sync.RWMutex
	closed bool
	queue  chan queuedEvent
	done   chan struct{}
}

type DispatcherOption func(*Dispatcher)

// WithQueueSize bounds how many events may wait for delivery. Events that
// arrive while the queue is full are dropped.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.queueSize = n
	}
}

// WithPublishTimeout bounds a single Publish call.
func WithPublishTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

func NewDispatcher(publisher Publisher, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		publisher: publisher,
		logger:    logger,
		timeout:   defaultPublishTimeout,
		queueSize: defaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan queuedEvent, d.queueSize)

	go d.run()
	return d
}

// Dispatch queues events in order and returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, events []domain.Event) {
	ctx = context.WithoutCancel(ctx)

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, e := range events {
		if d.closed {
			d.fail(ctx, e, "closed")
			continue
		}
		select {
		case d.queue <- queuedEvent{ctx: ctx, event: e}:
		default:
			d.fail(ctx, e, "queue_full")
		}
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for q := range d.queue {
		d.publish(q)
	}
}

func (d *Dispatcher) publish(q queuedEvent) {
	ctx, cancel := context.WithTimeout(q.ctx, d.timeout)
	defer cancel()

	if err := d.publisher.Publish(ctx, q.event.Channel, q.event.Name, q.event.Payload); err != nil {
		publishFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("channel", q.event.Channel),
			attribute.String("event", q.event.Name),
			attribute.String("reason", "publish"),
		))
		d.logger.Error("failed to publish realtime event", "error", err, "channel", q.event.Channel, "event", q.event.Name)
	}
}

func (d *Dispatcher) fail(ctx context.Context, e domain.Event, reason string) {
	publishFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", e.Channel),
		attribute.String("event", e.Name),
		attribute.String("reason", reason),
	))
	d.logger.Warn("dropping realtime event", "reason", reason, "channel", e.Channel, "event", e.Name)
}

// Close stops accepting events and waits for the queued ones to be
// published. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	<-d.done
}
