// Package changefeed publishes a change event after every successful write
// and drains the events to a handler at a controlled rate.
package changefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/modelstore/internal/kvstore"
	"github.com/rzpsarthak13/modelstore/internal/registry"
)

var (
	// ErrQueueClosed is returned when publishing to or consuming from a closed queue.
	ErrQueueClosed = errors.New("change feed queue is closed")

	// ErrQueueFull is returned by bounded queues that cannot accept another event.
	ErrQueueFull = errors.New("change feed queue is full")

	// ErrInvalidEvent is returned for events without an entity name.
	ErrInvalidEvent = errors.New("invalid change event")
)

// Operation is the kind of write an event reports.
type Operation string

const (
	OperationInsert     Operation = "insert"
	OperationUpdate     Operation = "update"
	OperationDelete     Operation = "delete"
	OperationBulkUpdate Operation = "bulk_update"
)

// ChangeEvent describes one committed write.
type ChangeEvent struct {
	ID        uuid.UUID      `json:"id"`
	Entity    string         `json:"entity"`
	Operation Operation      `json:"operation"`
	Key       int64          `json:"key,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an event with a fresh identifier and the current time.
func NewEvent(entity string, op Operation, key int64, data map[string]any) *ChangeEvent {
	return &ChangeEvent{
		ID:        uuid.New(),
		Entity:    entity,
		Operation: op,
		Key:       key,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func (e *ChangeEvent) validate() error {
	if e == nil {
		return ErrInvalidEvent
	}
	if e.Entity == "" {
		return fmt.Errorf("%w: entity is required", ErrInvalidEvent)
	}
	return nil
}

// Queue buffers change events between the writer and the dispatcher.
type Queue interface {
	// Publish appends an event.
	Publish(ctx context.Context, event *ChangeEvent) error

	// Consume removes and returns up to batchSize events in publish order.
	// It returns an empty slice when nothing is pending.
	Consume(ctx context.Context, batchSize int) ([]*ChangeEvent, error)

	// Size returns the number of pending events. Some queues approximate it.
	Size() int

	// Close releases the queue.
	Close() error
}

// Open builds the queue selected by cfg. A redis queue connects with the
// Redis settings of kv.
func Open(ctx context.Context, cfg registry.ChangeFeedConfig, kv registry.KVConfig, logger *slog.Logger) (Queue, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("changefeed", cfg.Type)

	switch cfg.Type {
	case "", "memory":
		return NewMemoryQueue(cfg.BufferSize), nil
	case "redis":
		store, err := kvstore.DialRedis(ctx, kv, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis change feed: %w", err)
		}
		return NewRedisQueue(store, cfg.RedisKey, logger), nil
	case "kafka":
		return NewKafkaQueue(cfg.Kafka, logger)
	default:
		return nil, fmt.Errorf("unsupported change feed type: %s", cfg.Type)
	}
}
