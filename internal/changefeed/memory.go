package changefeed

import (
	"context"
	"sync"
)

// MemoryQueue is a bounded in-process queue backed by a channel.
type MemoryQueue struct {
	queue  chan *ChangeEvent
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a queue holding at most bufferSize events.
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &MemoryQueue{queue: make(chan *ChangeEvent, bufferSize)}
}

// Publish implements Queue. A full queue rejects the event rather than block the writer.
func (q *MemoryQueue) Publish(ctx context.Context, event *ChangeEvent) error {
	if err := event.validate(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Consume implements Queue. Events still buffered when the queue closes are
// drained before ErrQueueClosed is reported.
func (q *MemoryQueue) Consume(ctx context.Context, batchSize int) ([]*ChangeEvent, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	events := make([]*ChangeEvent, 0, batchSize)
	for len(events) < batchSize {
		select {
		case event, ok := <-q.queue:
			if !ok {
				if len(events) == 0 {
					return nil, ErrQueueClosed
				}
				return events, nil
			}
			events = append(events, event)
		case <-ctx.Done():
			return events, ctx.Err()
		default:
			return events, nil
		}
	}
	return events, nil
}

// Size implements Queue.
func (q *MemoryQueue) Size() int {
	return len(q.queue)
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.queue)
	return nil
}
