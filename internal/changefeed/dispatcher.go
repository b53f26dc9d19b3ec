package changefeed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Handler receives dispatched events.
type Handler interface {
	Handle(ctx context.Context, event *ChangeEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event *ChangeEvent) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, event *ChangeEvent) error {
	return f(ctx, event)
}

// DispatcherConfig controls the pace of a Dispatcher.
type DispatcherConfig struct {
	// Rate is the maximum number of events handed to the handler per second.
	Rate int

	// BatchSize is how many events are consumed from the queue at once.
	BatchSize int

	// PollInterval is how long to wait when the queue is empty.
	PollInterval time.Duration
}

// DefaultDispatcherConfig returns the defaults used for zero fields.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Rate:         100,
		BatchSize:    50,
		PollInterval: 100 * time.Millisecond,
	}
}

// Dispatcher drains a queue into a handler in a background goroutine at no
// more than Rate events per second. Handler failures are logged and the
// event is dropped.
type Dispatcher struct {
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	queue   Queue
	handler Handler
	config  DispatcherConfig
	logger  *slog.Logger

	handled int64
	failed  int64
}

// NewDispatcher creates a stopped dispatcher.
func NewDispatcher(queue Queue, handler Handler, config DispatcherConfig, logger *slog.Logger) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.Rate <= 0 {
		config.Rate = defaults.Rate
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{queue: queue, handler: handler, config: config, logger: logger}
}

// Start launches the dispatch loop. Starting a running dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})

	go d.run(ctx, d.stopCh, d.doneCh)
	d.logger.Info("dispatcher started", "rate", d.config.Rate, "batch_size", d.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for the event in flight to finish.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	stopCh, doneCh := d.stopCh, d.doneCh
	d.mu.Unlock()

	close(stopCh)
	<-doneCh
	d.logger.Info("dispatcher stopped", "handled", d.Handled(), "failed", d.Failed())
	return nil
}

// IsRunning reports whether the loop is active.
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Handled returns the number of events the handler accepted.
func (d *Dispatcher) Handled() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handled
}

// Failed returns the number of events the handler rejected.
func (d *Dispatcher) Failed() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.failed
}

// QueueSize returns the pending event count of the queue.
func (d *Dispatcher) QueueSize() int {
	return d.queue.Size()
}

func (d *Dispatcher) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(d.config.Rate), 1)
	idle := time.NewTimer(0)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
		}

		events, err := d.queue.Consume(ctx, d.config.BatchSize)
		if errors.Is(err, ErrQueueClosed) {
			d.logger.Info("queue closed, dispatcher exiting")
			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
			return
		}
		if err != nil && ctx.Err() == nil {
			d.logger.Error("consume failed", "error", err)
		}

		for _, event := range events {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			d.dispatch(ctx, event)
		}

		if len(events) == 0 {
			idle.Reset(d.config.PollInterval)
		} else {
			idle.Reset(0)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event *ChangeEvent) {
	err := d.handler.Handle(ctx, event)
	d.mu.Lock()
	if err != nil {
		d.failed++
	} else {
		d.handled++
	}
	d.mu.Unlock()
	if err != nil {
		d.logger.Error("handler failed", "event", event.ID, "entity", event.Entity, "operation", event.Operation, "error", err)
		return
	}
	d.logger.Debug("dispatched change event", "event", event.ID, "entity", event.Entity, "operation", event.Operation)
}
