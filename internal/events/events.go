package events

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProgressEvent is one step of a run as seen from outside. Events for a
// single run are emitted in step order; nothing is guaranteed across runs.
type ProgressEvent struct {
	RequestID string    `json:"request_id"`
	StepIndex int       `json:"step_index"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher forwards progress events to the external status transport.
type Publisher interface {
	Publish(ctx context.Context, ev ProgressEvent) error
}

// RedisPublisher writes progress events to a per-request Redis stream so
// status consumers can attach after receiving the request ID and still see
// the full history. Streams expire after a retention window.
type RedisPublisher struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	logger    *slog.Logger
}

type RedisConfig struct {
	StreamPrefix string
	Retention    time.Duration
}

func NewRedisPublisher(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *RedisPublisher {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "stream:calc_status"
	}
	if cfg.Retention == 0 {
		cfg.Retention = 5 * time.Minute
	}
	return &RedisPublisher{
		client:    client,
		prefix:    cfg.StreamPrefix,
		retention: cfg.Retention,
		logger:    logger.With("component", "event_publisher"),
	}
}

func (p *RedisPublisher) streamKey(requestID string) string {
	return p.prefix + ":" + requestID
}

func (p *RedisPublisher) Publish(ctx context.Context, ev ProgressEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	key := p.streamKey(ev.RequestID)
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{
			"step_index": ev.StepIndex,
			"status":     ev.Status,
			"message":    ev.Message,
			"timestamp":  ev.Timestamp.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}

	// Refresh retention so the stream outlives the run by the window.
	if err := p.client.Expire(ctx, key, p.retention).Err(); err != nil {
		p.logger.Warn("failed to set stream retention", "key", key, "error", err)
	}
	return nil
}

// History returns the events recorded so far for a request, in emission
// order.
func (p *RedisPublisher) History(ctx context.Context, requestID string) ([]ProgressEvent, error) {
	entries, err := p.client.XRange(ctx, p.streamKey(requestID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read progress stream: %w", err)
	}

	events := make([]ProgressEvent, 0, len(entries))
	for _, entry := range entries {
		ev := ProgressEvent{RequestID: requestID}
		if v, ok := entry.Values["step_index"].(string); ok {
			ev.StepIndex, _ = strconv.Atoi(v)
		}
		if v, ok := entry.Values["status"].(string); ok {
			ev.Status = v
		}
		if v, ok := entry.Values["message"].(string); ok {
			ev.Message = v
		}
		if v, ok := entry.Values["timestamp"].(string); ok {
			ev.Timestamp, _ = time.Parse(time.RFC3339Nano, v)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Recorder keeps events in memory; used by tests and as a fallback when no
// Redis is configured.
type Recorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, ev ProgressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProgressEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ForRequest filters the recorded events to one request ID.
func (r *Recorder) ForRequest(requestID string) []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ProgressEvent
	for _, ev := range r.events {
		if ev.RequestID == requestID {
			out = append(out, ev)
		}
	}
	return out
}
