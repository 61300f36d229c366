package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bus is the fire-and-forget event bus port. Ordering across subscribers is
// not guaranteed; emit failures are the caller's to log and ignore.
type Bus interface {
	Emit(ctx context.Context, eventName string, payload map[string]interface{}) error
}

// Channel prefix for published compliance events
const channelPrefix = "txp.events."

// redisBus publishes events over Redis pub/sub
type redisBus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBus creates a Redis-backed event bus
func NewRedisBus(client *redis.Client, logger *zap.Logger) Bus {
	return &redisBus{client: client, logger: logger}
}

func (b *redisBus) Emit(ctx context.Context, eventName string, payload map[string]interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+eventName, raw).Err(); err != nil {
		b.logger.Error("event publish failed",
			zap.String("event", eventName),
			zap.Error(err))
		return fmt.Errorf("event publish failed: %w", err)
	}
	return nil
}

// MemoryBus is an in-process bus that records emitted events; used in tests
// and as a fallback when no broker is configured.
type MemoryBus struct {
	mu     sync.Mutex
	events []RecordedEvent
}

// RecordedEvent is one captured emission.
type RecordedEvent struct {
	Name    string
	Payload map[string]interface{}
}

// NewMemoryBus creates an in-process event bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Emit(_ context.Context, eventName string, payload map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, RecordedEvent{Name: eventName, Payload: payload})
	return nil
}

// Events returns a copy of everything emitted so far.
func (b *MemoryBus) Events() []RecordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RecordedEvent, len(b.events))
	copy(out, b.events)
	return out
}

// EventsNamed filters recorded events by name.
func (b *MemoryBus) EventsNamed(name string) []RecordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []RecordedEvent
	for _, e := range b.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
