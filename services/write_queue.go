package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("write queue closed")

type writeRequest struct {
	path  string
	value any
}

// WriteQueue applies the writes of one stream to the realtime store in order.
// Writes are best effort: failures are logged and never retried.
type WriteQueue struct {
	name   string
	store  RealtimeStore
	logger *zap.Logger
	ctx    context.Context

	queue chan writeRequest
	mu    sync.RWMutex
	// closed is guarded by mu
	closed bool
	done   chan struct{}
}

// NewWriteQueue starts the queue worker. Queued writes outlive cancellation of ctx so the
// final commands issued during shutdown still reach the store.
func NewWriteQueue(ctx context.Context, name string, store RealtimeStore, size int, logger *zap.Logger) *WriteQueue {
	if size <= 0 {
		size = 1
	}
	wq := &WriteQueue{
		name:   name,
		store:  store,
		logger: logger.With(zap.String("stream", name)),
		ctx:    context.WithoutCancel(ctx),
		queue:  make(chan writeRequest, size),
		done:   make(chan struct{}),
	}
	go wq.run()
	return wq
}

// Enqueue schedules a write and returns without waiting for it. It blocks only while the
// queue is full.
func (wq *WriteQueue) Enqueue(path string, value any) error {
	wq.mu.RLock()
	defer wq.mu.RUnlock()

	if wq.closed {
		wq.logger.Warn("Dropping write on closed queue", zap.String("path", path), zap.Any("value", value))
		return ErrQueueClosed
	}

	wq.queue <- writeRequest{path: path, value: value}
	return nil
}

func (wq *WriteQueue) run() {
	defer close(wq.done)

	for req := range wq.queue {
		start := time.Now()
		if err := wq.store.Write(wq.ctx, req.path, req.value); err != nil {
			wq.logger.Error("Realtime write failed",
				zap.String("path", req.path),
				zap.Any("value", req.value),
				zap.Error(err))
			continue
		}

		wq.logger.Debug("Realtime write applied",
			zap.String("path", req.path),
			zap.Any("value", req.value),
			zap.Duration("took", time.Since(start)))
	}
}

// Close stops accepting writes and waits for the queued ones to be applied
func (wq *WriteQueue) Close() {
	wq.mu.Lock()
	if wq.closed {
		wq.mu.Unlock()
		<-wq.done
		return
	}
	wq.closed = true
	close(wq.queue)
	wq.mu.Unlock()

	<-wq.done
	wq.logger.Debug("Write queue drained")
}

// Pending returns the number of writes waiting to be applied (for monitoring)
func (wq *WriteQueue) Pending() int {
	return len(wq.queue)
}
