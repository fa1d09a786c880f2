package workqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/convobridge/gateway/config"
)

// idleBackoff bounds how long a worker sleeps after finding every lane
// empty, so an idle pool doesn't spin hot against Redis.
const idleBackoff = 200 * time.Millisecond

// Pool runs a fixed number of worker goroutines per priority lane,
// dispatching each dequeued job to the handler registered for its type —
// the same registry-by-job-type shape as the teacher's
// queue/executor.DefaultExecutor, adapted to this package's own Job type.
type Pool struct {
	queue      *Queue
	handlers   map[string]Handler
	logger     *slog.Logger
	maxRetries int

	concurrency map[Priority]int
}

// NewPool builds a Pool draining queue with handlers keyed by job type,
// sized per cfg.
func NewPool(queue *Queue, handlers map[string]Handler, cfg config.Workqueue, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:      queue,
		handlers:   handlers,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		concurrency: map[Priority]int{
			High:    cfg.HighConcurrency,
			Default: cfg.DefaultConcurrency,
			Low:     cfg.LowConcurrency,
		},
	}
}

// Run starts the worker pool and blocks until ctx is canceled or a
// worker returns a non-context error. Every worker drains all three
// lanes (Dequeue already orders by priority); concurrency.{High,Default,
// Low} just sum to the total pool size rather than pinning goroutines to
// a single lane, so idle high-priority capacity can absorb low-priority
// backlog instead of sitting unused.
func (p *Pool) Run(ctx context.Context) error {
	total := p.concurrency[High] + p.concurrency[Default] + p.concurrency[Low]
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < total; i++ {
		g.Go(func() error {
			return p.runWorker(ctx)
		})
	}
	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err == ErrEmpty {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idleBackoff):
			}
			continue
		}
		if err != nil {
			p.logger.Error("workqueue dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idleBackoff):
			}
			continue
		}

		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job Job) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		p.logger.Error("workqueue: no handler registered", "job_type", job.Type, "job_id", job.ID)
		return
	}

	err := handler.Handle(ctx, job)
	if err == nil {
		return
	}

	if job.Attempts >= p.maxRetries {
		p.logger.Error("workqueue: job exhausted retries, dropping",
			"job_type", job.Type, "job_id", job.ID, "attempts", job.Attempts, "error", err)
		return
	}

	p.logger.Warn("workqueue: job failed, retrying",
		"job_type", job.Type, "job_id", job.ID, "attempts", job.Attempts, "error", err)

	job.Attempts++
	backoffDelay := backoff.NewExponentialBackOff().NextBackOff()
	time.AfterFunc(backoffDelay, func() {
		retryCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.queue.push(retryCtx, Low, job); err != nil {
			p.logger.Error("workqueue: failed to re-enqueue job", "job_id", job.ID, "error", err)
		}
	})
}
