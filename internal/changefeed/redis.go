package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ListOperations is the list API a redis queue needs. kvstore.RedisKVStore
// implements it.
type ListOperations interface {
	ListPush(ctx context.Context, key string, value []byte) error
	ListPop(ctx context.Context, key string, count int) ([][]byte, error)
	ListLength(ctx context.Context, key string) (int64, error)
}

// RedisQueue keeps events as JSON in one Redis list.
type RedisQueue struct {
	ops    ListOperations
	key    string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewRedisQueue creates a queue on the list at key. When ops is also an
// io.Closer it is closed with the queue.
func NewRedisQueue(ops ListOperations, key string, logger *slog.Logger) *RedisQueue {
	if key == "" {
		key = "modelstore:changes"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisQueue{ops: ops, key: key, logger: logger}
}

func (q *RedisQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Publish implements Queue.
func (q *RedisQueue) Publish(ctx context.Context, event *ChangeEvent) error {
	if err := event.validate(); err != nil {
		return err
	}
	if q.isClosed() {
		return ErrQueueClosed
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	if err := q.ops.ListPush(ctx, q.key, data); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// Consume implements Queue. Undecodable entries are logged and dropped.
func (q *RedisQueue) Consume(ctx context.Context, batchSize int) ([]*ChangeEvent, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	raw, err := q.ops.ListPop(ctx, q.key, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to consume change events: %w", err)
	}
	events := make([]*ChangeEvent, 0, len(raw))
	for _, data := range raw {
		var event ChangeEvent
		if err := json.Unmarshal(data, &event); err != nil {
			q.logger.Warn("dropping undecodable change event", "key", q.key, "error", err)
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}

// Size implements Queue.
func (q *RedisQueue) Size() int {
	if q.isClosed() {
		return 0
	}
	n, err := q.ops.ListLength(context.Background(), q.key)
	if err != nil {
		q.logger.Warn("failed to read change feed length", "key", q.key, "error", err)
		return 0
	}
	return int(n)
}

// Close implements Queue.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if c, ok := q.ops.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
