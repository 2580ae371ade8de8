// Package queue is the in-process worker pool that runs import jobs with a
// per-attempt timeout and bounded exponential retries.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/statement-import-engine/pkg/metrics"
)

var (
	ErrFull   = errors.New("job queue is full")
	ErrClosed = errors.New("job queue is closed")
)

// Handler processes jobs. Fail is called once a job has used all attempts.
type Handler interface {
	Process(ctx context.Context, jobID uuid.UUID) error
	Fail(ctx context.Context, jobID uuid.UUID, message string) error
}

type Config struct {
	Workers        int
	Size           int
	MaxAttempts    int
	AttemptTimeout time.Duration
	// Backoff is the first retry delay; later ones double.
	Backoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Size <= 0 {
		c.Size = 64
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 15 * time.Minute
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	return c
}

// Queue delivers each job at least once. A job id already waiting or running
// is not queued twice.
type Queue struct {
	cfg     Config
	jobs    chan uuid.UUID
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending map[uuid.UUID]struct{}
	closed  bool
}

func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		cfg:     cfg,
		jobs:    make(chan uuid.UUID, cfg.Size),
		logger:  logger,
		metrics: m,
		pending: make(map[uuid.UUID]struct{}),
	}
}

// Enqueue never blocks. It returns ErrFull when the buffer is exhausted.
func (q *Queue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if _, ok := q.pending[jobID]; ok {
		return nil
	}
	select {
	case q.jobs <- jobID:
		q.pending[jobID] = struct{}{}
		return nil
	default:
		return ErrFull
	}
}

// Len is the number of jobs waiting or running.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close rejects further Enqueue calls. Running workers stop when the context
// given to Run ends.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Run starts the workers and blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, h Handler) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		g.Go(func() error {
			q.work(ctx, h)
			return nil
		})
	}
	q.logger.Info("import workers started", slog.Int("workers", q.cfg.Workers))
	return g.Wait()
}

func (q *Queue) work(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.jobs:
			q.deliver(ctx, h, id)
			q.mu.Lock()
			delete(q.pending, id)
			q.mu.Unlock()
		}
	}
}

func (q *Queue) deliver(ctx context.Context, h Handler, id uuid.UUID) {
	backoff := retry.WithMaxRetries(uint64(q.cfg.MaxAttempts-1), retry.NewExponential(q.cfg.Backoff))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			q.metrics.Retried()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, q.cfg.AttemptTimeout)
		defer cancel()

		if err := h.Process(attemptCtx, id); err != nil {
			q.logger.Warn("import attempt failed",
				slog.String("import_id", id.String()),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// Shutting down. The reaper redelivers the job after restart.
		return
	}

	msg := fmt.Sprintf("giving up after %d attempts: %v", attempt, err)
	if err := h.Fail(ctx, id, msg); err != nil {
		q.logger.Error("failed to mark exhausted import as failed",
			slog.String("import_id", id.String()),
			slog.Any("error", err),
		)
	}
}
