// Package substrate provides checkpointed, retryable, crash-resumable
// execution of units of work. The migration engine never holds job
// progress in memory: every unit's status lives in a Journal, so a
// restarted process re-submits the same units and only the ones not yet
// marked completed run again. Units must therefore be idempotent under
// at-least-once delivery, which the engine's statement pattern guarantees.
package substrate

import (
	"context"
	"time"
)

// Kind classifies a unit of work, so the executor can dispatch it.
type Kind string

const (
	// KindMove executes a statement sequence as one transaction.
	KindMove Kind = "move"
	// KindSweep truncates a fully drained source table.
	KindSweep Kind = "sweep"
)

// Unit is one serializable unit of work. ID must be stable across process
// restarts: it is the idempotence key under which the journal records
// status, and a re-submitted unit with a completed ID is absorbed without
// running.
type Unit struct {
	ID         string
	Plan       string
	Kind       Kind
	Statements []string // move units
	Table      string   // sweep units
	Timeout    time.Duration
}

// Executor runs a single attempt of a unit and reports how many rows it
// moved. It must not retry internally; that is the substrate's job.
type Executor interface {
	Execute(ctx context.Context, unit Unit) (int64, error)
}

// RetryPolicy controls per-unit retry: exponential backoff starting at
// InitialInterval, doubling each attempt, capped at MaxInterval, for at
// most MaxAttempts attempts.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint64
}

// DefaultRetryPolicy is sized for a job that spans days: transient store
// errors should never kill it, so the attempt budget is generous and the
// backoff cap keeps a long outage from producing a retry storm.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 1 * time.Second,
		MaxInterval:     2 * time.Hour,
		MaxAttempts:     1000,
	}
}

// Substrate is what the orchestrator programs against: durable submission,
// a barrier over everything submitted since the last barrier, and a
// run-once helper for operations whose result must be recorded (bounds
// discovery) so that a resumed job replays the recorded value instead of
// recomputing it against a half-drained table.
type Substrate interface {
	// Submit durably registers a unit. Units already marked completed in
	// the journal are absorbed. Submit does not block on execution.
	Submit(ctx context.Context, unit Unit) error

	// AwaitAll executes every unit submitted since the previous barrier,
	// with bounded concurrency, and returns once all of them have
	// completed or one of them has permanently failed.
	AwaitAll(ctx context.Context) error

	// Do runs fn with the substrate's retry policy and memoizes its
	// result under id. A subsequent call with the same id returns the
	// recorded result without invoking fn.
	Do(ctx context.Context, id string, timeout time.Duration, fn func(ctx context.Context) (string, error)) (string, error)
}
