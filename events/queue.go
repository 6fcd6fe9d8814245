package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"paymebridge/observability"
)

// ErrQueueClosed is returned when enqueueing after Close.
var ErrQueueClosed = errors.New("events: dispatcher closed")

const (
	defaultQueueCapacity  = 256
	defaultPublishTimeout = 5 * time.Second
)

// DispatcherOption adjusts the behaviour of the dispatcher.
type DispatcherOption func(*dispatcherConfig)

type dispatcherConfig struct {
	capacity       int
	publishTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// WithCapacity sets the maximum number of pending events. When full the
// oldest pending event is dropped.
func WithCapacity(capacity int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if capacity > 0 {
			cfg.capacity = capacity
		}
	}
}

// WithPublishTimeout bounds a single publish call.
func WithPublishTimeout(timeout time.Duration) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

type queued struct {
	msg        Message
	enqueuedAt time.Time
}

// Stats is a point-in-time view of the dispatcher counters.
type Stats struct {
	Pending   int    `json:"pending"`
	Capacity  int    `json:"capacity"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Dispatcher hands events to a Publisher from a background worker so callers
// never wait on the broker.
type Dispatcher struct {
	publisher Publisher
	cfg       dispatcherConfig
	tracer    trace.Tracer

	mu     sync.Mutex
	ring   queueRing[queued]
	closed bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

func NewDispatcher(publisher Publisher, opts ...DispatcherOption) *Dispatcher {
	cfg := dispatcherConfig{
		capacity:       defaultQueueCapacity,
		publishTimeout: defaultPublishTimeout,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{
		publisher: publisher,
		cfg:       cfg,
		tracer:    otel.Tracer("paymebridge/events"),
		ring:      newQueueRing[queued](cfg.capacity),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the delivery worker. It is safe to call more than once.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		go d.run()
	})
}

// Enqueue schedules payload for topic and returns immediately.
func (d *Dispatcher) Enqueue(topic string, payload map[string]interface{}) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrQueueClosed
	}
	_, overflow := d.ring.push(queued{msg: Message{Topic: topic, Payload: payload}, enqueuedAt: d.cfg.now()})
	depth := d.ring.len()
	d.mu.Unlock()

	if overflow {
		d.dropped.Add(1)
		observability.Events().RecordDropped("overflow", 1)
		d.cfg.logger.Warn("events: queue full, dropped oldest event", "topic", topic)
	}
	observability.Events().SetQueueDepth(depth)
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	pending := d.ring.len()
	capacity := d.ring.capacity()
	d.mu.Unlock()
	return Stats{
		Pending:   pending,
		Capacity:  capacity,
		Published: d.published.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// Close stops accepting events and waits for the worker to drain what is
// already queued, or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.stopOnce.Do(func() { close(d.stop) })
	d.Start()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		remaining := d.Stats().Pending
		if remaining > 0 {
			d.dropped.Add(uint64(remaining))
			observability.Events().RecordDropped("shutdown", remaining)
		}
		return fmt.Errorf("events: %d events undelivered at shutdown: %w", remaining, ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		item, ok := d.pop()
		if ok {
			d.deliver(item)
			continue
		}
		select {
		case <-d.wake:
		case <-d.stop:
			// Drain whatever arrived before Close.
			for {
				item, ok := d.pop()
				if !ok {
					return
				}
				d.deliver(item)
			}
		}
	}
}

func (d *Dispatcher) pop() (queued, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	item, ok := d.ring.pop()
	if ok {
		observability.Events().SetQueueDepth(d.ring.len())
	}
	return item, ok
}

func (d *Dispatcher) deliver(item queued) {
	status, _ := item.msg.Payload["status"].(string)
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.publishTimeout)
	defer cancel()
	ctx, span := d.tracer.Start(ctx, "events.publish", trace.WithAttributes(
		attribute.String("messaging.destination", item.msg.Topic),
		attribute.String("event.status", status),
	))
	defer span.End()

	ok := d.safePublish(ctx, item.msg)
	observability.Events().RecordPublish(status, ok)
	if ok {
		d.published.Add(1)
		d.cfg.logger.Debug("events: published", "topic", item.msg.Topic, "status", status,
			"queued_for", d.cfg.now().Sub(item.enqueuedAt))
		return
	}
	d.failed.Add(1)
	span.SetStatus(codes.Error, "publish failed")
	d.cfg.logger.Warn("events: publish failed", "topic", item.msg.Topic, "status", status)
}

func (d *Dispatcher) safePublish(ctx context.Context, msg Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.cfg.logger.Error("events: publisher panic", "topic", msg.Topic, "panic", r)
			ok = false
		}
	}()
	if d.publisher == nil {
		return false
	}
	return d.publisher.Publish(ctx, msg.Topic, msg.Payload)
}

// queueRing is a fixed-size ring buffer that overwrites the oldest element on overflow.
type queueRing[T any] struct {
	buf  []T
	head int
	size int
}

func newQueueRing[T any](capacity int) queueRing[T] {
	if capacity <= 0 {
		return queueRing[T]{}
	}
	return queueRing[T]{buf: make([]T, capacity)}
}

func (r *queueRing[T]) push(v T) (T, bool) {
	if len(r.buf) == 0 {
		var zero T
		return zero, true
	}
	if r.size == len(r.buf) {
		dropped := r.buf[r.head]
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return dropped, true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
	var zero T
	return zero, false
}

func (r *queueRing[T]) pop() (T, bool) {
	var zero T
	if r.size == 0 || len(r.buf) == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return v, true
}

func (r *queueRing[T]) len() int { return r.size }

func (r *queueRing[T]) capacity() int { return len(r.buf) }
