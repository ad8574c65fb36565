package notification

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"grohe-sync-backend/internal/coordinator"
)

// Handler reacts to one coordinator update.
type Handler interface {
	Name() string
	Handle(ctx context.Context, u coordinator.Update) error
}

// WorkerPool fans coordinator updates out to handlers on a fixed number of goroutines,
// so slow handlers never block a coordinator.
type WorkerPool struct {
	size     int
	jobs     chan coordinator.Update
	handlers []Handler
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewWorkerPool creates a new worker pool. The queue holds queueSize pending updates.
func NewWorkerPool(size, queueSize int, logger *zap.Logger, handlers ...Handler) *WorkerPool {
	if size < 1 {
		size = 1
	}
	if queueSize < 1 {
		queueSize = size
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		size:     size,
		jobs:     make(chan coordinator.Update, queueSize),
		handlers: handlers,
		logger:   logger.Named("notification"),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Wait blocks until every worker has stopped.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	wp.logger.Debug("worker started", zap.Int("worker", id))
	for {
		select {
		case u := <-wp.jobs:
			wp.process(ctx, id, u)
		case <-ctx.Done():
			wp.logger.Debug("worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

func (wp *WorkerPool) process(ctx context.Context, id int, u coordinator.Update) {
	for _, h := range wp.handlers {
		if err := h.Handle(ctx, u); err != nil {
			wp.logger.Error("handler failed",
				zap.Int("worker", id),
				zap.String("handler", h.Name()),
				zap.String("update", u.Kind.String()),
				zap.String("appliance_id", u.Device.ApplianceID),
				zap.Error(err),
			)
		}
	}
}

// Dispatch queues an update. It never blocks: when the queue is full the update is
// dropped and false is returned.
func (wp *WorkerPool) Dispatch(u coordinator.Update) bool {
	select {
	case wp.jobs <- u:
		return true
	default:
		wp.logger.Warn("notification queue full, dropping update",
			zap.String("update", u.Kind.String()),
			zap.String("appliance_id", u.Device.ApplianceID),
		)
		return false
	}
}

// Listener adapts Dispatch for Coordinator.AddListener.
func (wp *WorkerPool) Listener() coordinator.Listener {
	return func(u coordinator.Update) { wp.Dispatch(u) }
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan coordinator.Update {
	return wp.jobs
}
