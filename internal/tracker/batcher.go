package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"beacon/internal/buffer"
)

// FlushFunc ships one batch of commands.
type FlushFunc func(ctx context.Context, batch []Command) error

// Batcher queues commands in a bounded ring and ships them from a single worker
// goroutine, either when a batch fills up or on every tick. Enqueue never blocks;
// when the ring is full the oldest queued command is dropped.
type Batcher struct {
	name      string
	queue     *buffer.RingBuffer[Command]
	flush     FlushFunc
	batchSize int
	interval  time.Duration
	logger    *slog.Logger

	wake      chan struct{}
	stop      chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewBatcher creates a stopped batcher. Call Start to run the worker.
func NewBatcher(name string, flush FlushFunc, queueSize, batchSize int, interval time.Duration, logger *slog.Logger) *Batcher {
	if batchSize <= 0 {
		batchSize = 25
	}
	if queueSize < batchSize {
		queueSize = batchSize * 40
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		name:      name,
		queue:     buffer.NewRingBuffer[Command](queueSize),
		flush:     flush,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Enqueue queues cmd for the next flush.
func (b *Batcher) Enqueue(cmd Command) {
	if b.queue.Enqueue(cmd) {
		b.logger.Warn("tracker queue full, dropped oldest command", "tracker", b.name)
	}
	if b.queue.Len() >= b.batchSize {
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of queued commands.
func (b *Batcher) Len() int {
	return b.queue.Len()
}

// Dropped returns how many commands were evicted from a full queue.
func (b *Batcher) Dropped() int64 {
	return b.queue.Dropped()
}

// Start launches the worker goroutine.
func (b *Batcher) Start() {
	b.startOnce.Do(func() {
		go b.run()
	})
}

// Close stops the worker and flushes what is left, bounded by ctx.
func (b *Batcher) Close(ctx context.Context) error {
	b.stopOnce.Do(func() {
		close(b.stop)
	})
	b.startOnce.Do(func() {
		// Never started, so no worker will close stopped.
		close(b.stopped)
	})
	select {
	case <-b.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.flushAll(ctx)
	return nil
}

func (b *Batcher) run() {
	defer close(b.stopped)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.flushAll(ctx)
		case <-b.wake:
			b.flushAll(ctx)
		}
	}
}

func (b *Batcher) flushAll(ctx context.Context) {
	for {
		batch := b.queue.DequeueBatch(b.batchSize)
		if len(batch) == 0 {
			return
		}
		if err := b.flush(ctx, batch); err != nil {
			b.logger.WarnContext(ctx, "tracker flush failed, batch dropped",
				"tracker", b.name,
				"batch_size", len(batch),
				"error", err,
			)
		}
		if ctx.Err() != nil {
			return
		}
	}
}
