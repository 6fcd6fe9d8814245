package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

// Publisher delivers one JSON object to a topic. Implementations report the
// outcome and never panic; retries are not attempted.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload map[string]interface{}) bool
}

// Status is reported by publishers that hold a broker connection.
type Status interface {
	Connected() bool
	Endpoint() string
}

// Topic joins the per-merchant topic, e.g. payments/<merchant id>.
func Topic(prefix, merchantID string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "payments"
	}
	return prefix + "/" + strings.TrimSpace(merchantID)
}

// LogPublisher writes events to the structured log instead of a broker.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, payload map[string]interface{}) bool {
	encoded, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("events: encode payload", "topic", topic, "error", err)
		return false
	}
	p.logger.Info("events: publish", "topic", topic, "payload", string(encoded))
	return true
}

func (p *LogPublisher) Connected() bool { return true }

func (p *LogPublisher) Endpoint() string { return "log" }

// Message is a published topic/payload pair.
type Message struct {
	Topic   string
	Payload map[string]interface{}
}

// Recorder keeps published messages in memory. Fail makes subsequent
// publishes report failure.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	fail     bool
	notify   chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 64)}
}

func (r *Recorder) Publish(ctx context.Context, topic string, payload map[string]interface{}) bool {
	r.mu.Lock()
	r.messages = append(r.messages, Message{Topic: topic, Payload: payload})
	fail := r.fail
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return !fail
}

// Fail toggles failure reporting.
func (r *Recorder) Fail(fail bool) {
	r.mu.Lock()
	r.fail = fail
	r.mu.Unlock()
}

// Messages returns a snapshot of everything published so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Wait blocks until at least n messages were recorded or ctx ends.
func (r *Recorder) Wait(ctx context.Context, n int) bool {
	for {
		r.mu.Lock()
		count := len(r.messages)
		r.mu.Unlock()
		if count >= n {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-r.notify:
		}
	}
}

func (r *Recorder) Connected() bool { return true }

func (r *Recorder) Endpoint() string { return "memory" }
