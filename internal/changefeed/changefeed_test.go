package changefeed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/modelstore/internal/registry"
	"github.com/rzpsarthak13/modelstore/internal/testutil"
)

func TestNewEvent(t *testing.T) {
	a := NewEvent("people", OperationInsert, 1, map[string]any{"Name": "Ann"})
	b := NewEvent("people", OperationInsert, 1, nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, time.UTC, a.Timestamp.Location())
	assert.ErrorIs(t, (&ChangeEvent{}).validate(), ErrInvalidEvent)
}

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(2)

	require.NoError(t, q.Publish(ctx, NewEvent("people", OperationInsert, 1, nil)))
	require.NoError(t, q.Publish(ctx, NewEvent("people", OperationUpdate, 1, nil)))
	assert.ErrorIs(t, q.Publish(ctx, NewEvent("people", OperationDelete, 1, nil)), ErrQueueFull)
	assert.ErrorIs(t, q.Publish(ctx, &ChangeEvent{}), ErrInvalidEvent)
	assert.Equal(t, 2, q.Size())

	events, err := q.Consume(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, OperationInsert, events[0].Operation)
	assert.Equal(t, OperationUpdate, events[1].Operation)

	events, err = q.Consume(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, q.Publish(ctx, NewEvent("people", OperationDelete, 1, nil)))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Publish(ctx, NewEvent("people", OperationDelete, 1, nil)), ErrQueueClosed)

	events, err = q.Consume(ctx, 10)
	require.NoError(t, err, "buffered events drain after close")
	assert.Len(t, events, 1)
	_, err = q.Consume(ctx, 10)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

// fakeLists is an in-memory ListOperations.
type fakeLists struct {
	mu     sync.Mutex
	lists  map[string][][]byte
	closed bool
}

func newFakeLists() *fakeLists { return &fakeLists{lists: make(map[string][][]byte)} }

func (f *fakeLists) ListPush(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = append(f.lists[key], value)
	return nil
}

func (f *fakeLists) ListPop(_ context.Context, key string, count int) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[key]
	n := min(count, len(l))
	out := l[:n]
	f.lists[key] = l[n:]
	return out, nil
}

func (f *fakeLists) ListLength(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.lists[key])), nil
}

func (f *fakeLists) Close() error {
	f.closed = true
	return nil
}

func TestRedisQueue(t *testing.T) {
	ctx := context.Background()
	lists := newFakeLists()
	q := NewRedisQueue(lists, "feed", testutil.NewTestLogger(t))

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, q.Publish(ctx, NewEvent("people", OperationInsert, i, map[string]any{"n": i})))
	}
	require.NoError(t, lists.ListPush(ctx, "feed", []byte("{not json")))
	assert.Equal(t, 4, q.Size())

	events, err := q.Consume(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Key)
	assert.Equal(t, float64(1), events[0].Data["n"])

	events, err = q.Consume(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1, "undecodable entries are dropped")
	assert.Equal(t, int64(3), events[0].Key)

	require.NoError(t, q.Close())
	assert.True(t, lists.closed)
	assert.ErrorIs(t, q.Publish(ctx, NewEvent("people", OperationInsert, 4, nil)), ErrQueueClosed)
	_, err = q.Consume(ctx, 1)
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.Equal(t, 0, q.Size())
}

// fakeKafka serves as both writer and reader over one in-memory log.
type fakeKafka struct {
	mu        sync.Mutex
	log       []kafka.Message
	next      int
	committed []int64
	writeErr  error
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		m.Offset = int64(len(f.log))
		f.log = append(f.log, m)
	}
	return nil
}

func (f *fakeKafka) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if f.next < len(f.log) {
		m := f.log[f.next]
		f.next++
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeKafka) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeKafka) Close() error { return nil }

func TestKafkaQueue(t *testing.T) {
	ctx := context.Background()
	fk := &fakeKafka{}
	q := NewKafkaQueueWith(fk, fk, "changes", nil)
	q.readWait = 10 * time.Millisecond

	require.NoError(t, q.Publish(ctx, NewEvent("people", OperationInsert, 1, nil)))
	require.NoError(t, q.Publish(ctx, NewEvent("pets", OperationDelete, 7, nil)))
	assert.Equal(t, 2, q.Size())
	assert.Equal(t, []byte("people"), fk.log[0].Key)
	assert.Equal(t, kafka.Header{Key: "operation", Value: []byte("insert")}, fk.log[0].Headers[0])

	events, err := q.Consume(ctx, 5)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "pets", events[1].Entity)
	assert.Equal(t, []int64{0, 1}, fk.committed)
	assert.Equal(t, 0, q.Size())

	fk.writeErr = errors.New("broker down")
	assert.ErrorContains(t, q.Publish(ctx, NewEvent("people", OperationInsert, 2, nil)), "broker down")
	assert.Equal(t, 0, q.Size())

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Publish(ctx, NewEvent("people", OperationInsert, 3, nil)), ErrQueueClosed)
}

func TestNewKafkaQueueValidates(t *testing.T) {
	_, err := NewKafkaQueue(registry.KafkaConfig{Topic: "t"}, nil)
	assert.ErrorContains(t, err, "broker")
	_, err = NewKafkaQueue(registry.KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.ErrorContains(t, err, "topic")
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	cfg := registry.DefaultConfig()

	q, err := Open(ctx, cfg.ChangeFeed, cfg.Backend.KV, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)
	require.NoError(t, q.Close())

	cfg.ChangeFeed.Type = "nats"
	_, err = Open(ctx, cfg.ChangeFeed, cfg.Backend.KV, nil)
	assert.ErrorContains(t, err, "unsupported change feed type")
}

type recorder struct {
	mu     sync.Mutex
	events []*ChangeEvent
	fail   map[int64]bool
}

func (r *recorder) Handle(_ context.Context, e *ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[e.Key] {
		return errors.New("rejected")
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestDispatcherDrainsInOrder(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(100)
	rec := &recorder{fail: map[int64]bool{3: true}}
	d := NewDispatcher(q, rec, DispatcherConfig{Rate: 1000, BatchSize: 2, PollInterval: 5 * time.Millisecond}, testutil.NewTestLogger(t))

	require.NoError(t, d.Start(ctx))
	require.NoError(t, d.Start(ctx))
	assert.True(t, d.IsRunning())

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, q.Publish(ctx, NewEvent("people", OperationUpdate, i, nil)))
	}
	require.Eventually(t, func() bool { return rec.count() == 4 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop())
	assert.False(t, d.IsRunning())

	keys := make([]int64, 0, 4)
	for _, e := range rec.events {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []int64{1, 2, 4, 5}, keys)
	assert.Equal(t, int64(4), d.Handled())
	assert.Equal(t, int64(1), d.Failed())
	assert.Equal(t, 0, d.QueueSize())
}

func TestDispatcherRespectsRate(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(100)
	rec := &recorder{}
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, q.Publish(ctx, NewEvent("people", OperationInsert, i, nil)))
	}

	d := NewDispatcher(q, rec, DispatcherConfig{Rate: 20, BatchSize: 10}, nil)
	start := time.Now()
	require.NoError(t, d.Start(ctx))
	require.Eventually(t, func() bool { return rec.count() == 5 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, d.Stop())
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond, "five events at 20/s need four intervals")
}

func TestDispatcherExitsWhenQueueCloses(t *testing.T) {
	q := NewMemoryQueue(10)
	d := NewDispatcher(q, HandlerFunc(func(context.Context, *ChangeEvent) error { return nil }),
		DispatcherConfig{PollInterval: time.Millisecond}, nil)
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, q.Close())
	require.Eventually(t, func() bool { return !d.IsRunning() }, time.Second, time.Millisecond)
	require.NoError(t, d.Stop())
}
