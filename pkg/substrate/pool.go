package substrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Journal     Journal
	Executor    Executor
	Concurrency int
	RetryPolicy RetryPolicy
	// IsRetryable classifies an execution error as transient. Errors it
	// rejects are fatal and fail the unit immediately, regardless of the
	// remaining attempt budget. Nil means every error is transient.
	IsRetryable func(error) bool
	Logger      *slog.Logger
}

// Pool is the reference Substrate implementation: an in-process worker
// pool over a durable journal. Fan-out is bounded by Concurrency and the
// pool is correct at any width from fully sequential upward; the barrier
// in AwaitAll holds until the full submitted set resolves.
type Pool struct {
	journal     Journal
	executor    Executor
	concurrency int
	policy      RetryPolicy
	isRetryable func(error) bool
	logger      *slog.Logger

	mu      sync.Mutex
	pending []Unit
}

var _ Substrate = (*Pool)(nil)

func NewPool(config *Config) (*Pool, error) {
	if config.Journal == nil {
		return nil, errors.New("pool requires a journal")
	}
	if config.Executor == nil {
		return nil, errors.New("pool requires an executor")
	}
	concurrency := config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	policy := config.RetryPolicy
	if policy.InitialInterval == 0 {
		policy = DefaultRetryPolicy()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		journal:     config.Journal,
		executor:    config.Executor,
		concurrency: concurrency,
		policy:      policy,
		isRetryable: config.IsRetryable,
		logger:      logger,
	}, nil
}

func (p *Pool) Submit(ctx context.Context, unit Unit) error {
	completed, err := p.journal.Begin(ctx, unit)
	if err != nil {
		return err
	}
	if completed {
		p.logger.Debug("unit already completed, absorbing", "unit", unit.ID)
		return nil
	}
	p.mu.Lock()
	p.pending = append(p.pending, unit)
	p.mu.Unlock()
	return nil
}

func (p *Pool) AwaitAll(ctx context.Context) error {
	p.mu.Lock()
	units := p.pending
	p.pending = nil
	p.mu.Unlock()

	g, errGrpCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, unit := range units {
		g.Go(func() error {
			return p.runUnit(errGrpCtx, unit)
		})
	}
	return g.Wait()
}

func (p *Pool) runUnit(ctx context.Context, unit Unit) error {
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		if err := p.journal.RecordAttempt(ctx, unit.ID); err != nil {
			// If we can't record progress we don't want to keep doing
			// work: we could be days into a job before discovering the
			// journal is gone.
			return err
		}
		rowsMoved, err := p.execute(ctx, unit)
		if err != nil {
			if p.retryable(ctx, err) {
				p.logger.Warn("unit of work failed, will retry",
					"unit", unit.ID, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		return p.journal.MarkCompleted(ctx, unit.ID, rowsMoved)
	})
	if err != nil {
		return fmt.Errorf("unit %s (plan %s): %w", unit.ID, unit.Plan, err)
	}
	return nil
}

func (p *Pool) execute(ctx context.Context, unit Unit) (int64, error) {
	if unit.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, unit.Timeout)
		defer cancel()
	}
	return p.executor.Execute(ctx, unit)
}

// Do implements run-once with a recorded result. The memo makes results
// stable across restarts: a resumed job sees the bounds its first run
// discovered, not bounds recomputed from a half-drained table.
func (p *Pool) Do(ctx context.Context, id string, timeout time.Duration, fn func(ctx context.Context) (string, error)) (string, error) {
	if value, ok, err := p.journal.Memo(ctx, id); err != nil {
		return "", err
	} else if ok {
		p.logger.Debug("operation result replayed from journal", "operation", id)
		return value, nil
	}
	var result string
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		fnCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			fnCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		value, err := fn(fnCtx)
		if err != nil {
			if p.retryable(ctx, err) {
				p.logger.Warn("operation failed, will retry", "operation", id, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("operation %s: %w", id, err)
	}
	if err := p.journal.SetMemo(ctx, id, result); err != nil {
		return "", err
	}
	return result, nil
}

func (p *Pool) backoff() retry.Backoff {
	b := retry.NewExponential(p.policy.InitialInterval)
	b = retry.WithCappedDuration(p.policy.MaxInterval, b)
	if p.policy.MaxAttempts > 0 {
		b = retry.WithMaxRetries(p.policy.MaxAttempts-1, b)
	}
	return b
}

// retryable decides whether an attempt error is transient. A per-unit
// timeout counts as transient as long as the surrounding job is still
// alive; job cancellation is never retried.
func (p *Pool) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if p.isRetryable == nil {
		return true
	}
	return p.isRetryable(err)
}
