package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rzpsarthak13/modelstore/internal/registry"
)

// defaultReadWait bounds how long Consume waits for one message.
const defaultReadWait = time.Second

// MessageWriter is the producer side of kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the consumer side of kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue publishes events to a topic keyed by entity and consumes them
// through a consumer group.
type KafkaQueue struct {
	writer   MessageWriter
	reader   MessageReader
	topic    string
	readWait time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	size   int // approximate; Kafka has no exact backlog count
}

// NewKafkaQueue creates a producer and a consumer-group reader for cfg.
func NewKafkaQueue(cfg registry.KafkaConfig, logger *slog.Logger) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "modelstore"
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		BatchBytes:   int64(cfg.MaxMessageBytes),
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  3,
	}
	// New consumer groups start from the oldest retained event.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
	})

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.Info("kafka change feed initialized", "brokers", cfg.Brokers, "topic", cfg.Topic, "group", cfg.GroupID)
	return NewKafkaQueueWith(writer, reader, cfg.Topic, logger), nil
}

// NewKafkaQueueWith assembles a queue from an existing writer and reader.
func NewKafkaQueueWith(writer MessageWriter, reader MessageReader, topic string, logger *slog.Logger) *KafkaQueue {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &KafkaQueue{writer: writer, reader: reader, topic: topic, readWait: defaultReadWait, logger: logger}
}

func (q *KafkaQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Publish implements Queue. The entity name is the message key so events of
// one entity stay ordered within a partition.
func (q *KafkaQueue) Publish(ctx context.Context, event *ChangeEvent) error {
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
	msg := kafka.Message{
		Key:   []byte(event.Entity),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "operation", Value: []byte(event.Operation)},
			{Key: "entity", Value: []byte(event.Entity)},
		},
	}
	start := time.Now()
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		q.logger.Error("kafka produce failed", "topic", q.topic, "error", err, "duration", time.Since(start))
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	q.mu.Lock()
	q.size++
	q.mu.Unlock()
	q.logger.Debug("kafka produced change event", "topic", q.topic, "entity", event.Entity, "operation", event.Operation, "bytes", len(data))
	return nil
}

// Consume implements Queue. Each message is committed once decoded; a read
// that times out ends the batch.
func (q *KafkaQueue) Consume(ctx context.Context, batchSize int) ([]*ChangeEvent, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	events := make([]*ChangeEvent, 0, batchSize)
	for len(events) < batchSize {
		readCtx, cancel := context.WithTimeout(ctx, q.readWait)
		msg, err := q.reader.FetchMessage(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			return events, fmt.Errorf("failed to read message from Kafka: %w", err)
		}

		var event ChangeEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			q.logger.Warn("dropping undecodable change event", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		} else {
			events = append(events, &event)
		}
		if err := q.reader.CommitMessages(ctx, msg); err != nil {
			q.logger.Warn("failed to commit offset", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}

	if len(events) > 0 {
		q.mu.Lock()
		q.size = max(q.size-len(events), 0)
		q.mu.Unlock()
	}
	return events, nil
}

// Size implements Queue with the count of events this process published and
// has not consumed.
func (q *KafkaQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

// Close implements Queue.
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return errors.Join(q.writer.Close(), q.reader.Close())
}
