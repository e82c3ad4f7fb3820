// Package jobs runs extraction for upload events on a bounded worker pool.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zombor/receipt-tracker/internal/pipeline"
)

// ErrQueueClosed is returned by Enqueue after Shutdown
var ErrQueueClosed = errors.New("queue is shutting down")

// Runner processes a single upload event
type Runner interface {
	Run(ctx context.Context, ev pipeline.Event) pipeline.Result
}

// Queue hands upload events to a fixed set of workers
type Queue struct {
	runner  Runner
	logger  *slog.Logger
	workers int
	timeout time.Duration
	limiter *rate.Limiter

	// base parents every run and is cancelled when Shutdown gives up waiting
	base   context.Context
	cancel context.CancelFunc

	ch   chan pipeline.Event
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

// Option configures a Queue
type Option func(*Queue)

// WithWorkers sets the number of concurrent runs
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithQueueSize sets how many events may wait for a worker
func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan pipeline.Event, n)
		}
	}
}

// WithJobTimeout bounds a single run
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithRateLimit caps runs started per minute (0 = unlimited)
func WithRateLimit(perMinute, burst int) Option {
	return func(q *Queue) {
		if perMinute <= 0 {
			q.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		q.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
	}
}

// NewQueue creates a Queue and starts its workers
func NewQueue(runner Runner, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		runner:  runner,
		logger:  logger,
		workers: 2,
		timeout: 5 * time.Minute,
		ch:      make(chan pipeline.Event, 64),
	}
	for _, o := range opts {
		o(q)
	}
	q.base, q.cancel = context.WithCancel(context.Background())
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("jobs.worker.start", "worker_id", workerID)

				for ev := range q.ch {
					q.process(workerID, ev)
				}

				q.logger.Debug("jobs.worker.stop", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *Queue) process(workerID int, ev pipeline.Event) {
	if q.base.Err() != nil {
		q.logger.Warn("jobs.run.dropped", "worker_id", workerID, "receipt_id", ev.ReceiptID)
		return
	}

	ctx, cancel := context.WithTimeout(q.base, q.timeout)
	defer cancel()

	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			q.logger.Error("jobs.rate_limit.wait_failed", "worker_id", workerID, "receipt_id", ev.ReceiptID, "error", err)
			return
		}
	}

	res := q.runner.Run(ctx, ev)
	if res.Success {
		q.logger.Info("jobs.run.processed", "worker_id", workerID, "receipt_id", ev.ReceiptID, "owner_id", res.OwnerID)
	} else {
		q.logger.Warn("jobs.run.failed", "worker_id", workerID, "receipt_id", ev.ReceiptID, "kind", res.Kind, "error", res.Error)
	}
}

// Enqueue schedules an event. It blocks while the queue is full until ctx is
// done.
func (q *Queue) Enqueue(ctx context.Context, ev pipeline.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- ev:
		q.logger.Debug("jobs.enqueued", "receipt_id", ev.ReceiptID)
		return nil
	default:
	}

	q.logger.Warn("jobs.queue_full", "receipt_id", ev.ReceiptID)
	select {
	case q.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting events and waits for queued ones to drain. When
// ctx ends first, in-flight runs are cancelled, events still queued are
// dropped, and Shutdown returns ctx.Err() once every worker has stopped.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("jobs.shutdown.interrupted")
		q.cancel()
		<-done
		return ctx.Err()
	case <-done:
		q.cancel()
		q.logger.Info("jobs.shutdown.drained")
		return nil
	}
}
