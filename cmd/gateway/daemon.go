package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/convobridge/gateway/sequence"
	"github.com/convobridge/gateway/workqueue"
)

// workqueuePoolDaemon adapts workqueue.Pool's blocking Run(ctx) to
// server.Daemon's Start/Stop shape, grounded on log.Daemon's
// own-context-and-done-channel pattern.
type workqueuePoolDaemon struct {
	pool   *workqueue.Pool
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newWorkqueuePoolDaemon(pool *workqueue.Pool, logger *slog.Logger) *workqueuePoolDaemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &workqueuePoolDaemon{
		pool:   pool,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (d *workqueuePoolDaemon) Name() string { return "workqueue-pool" }

func (d *workqueuePoolDaemon) Start() error {
	go func() {
		defer close(d.done)
		if err := d.pool.Run(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("workqueue pool exited", "error", err)
		}
	}()
	return nil
}

func (d *workqueuePoolDaemon) Stop(ctx context.Context) error {
	d.cancel()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sequenceCleanupDaemon periodically sweeps expired registration
// sequences out of the KV store so abandoned flows don't linger
// forever under sequence:*/sequence_data:* keys.
type sequenceCleanupDaemon struct {
	seq      *sequence.Manager
	interval time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSequenceCleanupDaemon(seq *sequence.Manager, interval time.Duration, logger *slog.Logger) *sequenceCleanupDaemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &sequenceCleanupDaemon{
		seq:      seq,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (d *sequenceCleanupDaemon) Name() string { return "sequence-cleanup" }

func (d *sequenceCleanupDaemon) Start() error {
	go d.run()
	return nil
}

func (d *sequenceCleanupDaemon) run() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := d.seq.CleanupExpired(d.ctx)
			if err != nil {
				d.logger.Error("sequence cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				d.logger.Info("sequence cleanup removed expired entries", "count", n)
			}
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *sequenceCleanupDaemon) Stop(ctx context.Context) error {
	d.cancel()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
