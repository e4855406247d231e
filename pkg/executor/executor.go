// Package executor runs one unit of work's statement sequence as a single
// atomic transaction. It is deliberately thin: it makes exactly one
// attempt and reports failure to the caller, so that retry and backoff
// policy live entirely in the execution substrate.
package executor

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/block/shardmove/pkg/dbconn"
	"github.com/block/shardmove/pkg/metrics"
)

type Config struct {
	Logger      *slog.Logger
	MetricsSink metrics.Sink
}

// ChunkExecutor moves one chunk (or drains one sub-relation) per call.
type ChunkExecutor struct {
	db          *sql.DB
	logger      *slog.Logger
	metricsSink metrics.Sink
}

func NewChunkExecutor(db *sql.DB, config *Config) *ChunkExecutor {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := config.MetricsSink
	if sink == nil {
		sink = &metrics.NoopSink{}
	}
	return &ChunkExecutor{
		db:          db,
		logger:      logger,
		metricsSink: sink,
	}
}

// MoveChunk executes the statement sequence in one transaction and returns
// the number of rows it moved. A re-delivered chunk whose range was already
// drained commits cleanly and reports zero rows.
func (e *ChunkExecutor) MoveChunk(ctx context.Context, stmts []string) (int64, error) {
	startTime := time.Now()
	e.logger.Debug("running chunk", "statements", stmts)
	rowsMoved, err := dbconn.TransactionExec(ctx, e.db, stmts...)
	if err != nil {
		return 0, err
	}
	if err := e.sendMetrics(ctx, time.Since(startTime), rowsMoved); err != nil {
		// we don't want to stop processing if metrics sending fails, log and continue
		e.logger.Error("error sending metrics from executor", "error", err)
	}
	return rowsMoved, nil
}

func (e *ChunkExecutor) sendMetrics(ctx context.Context, processingTime time.Duration, rowsMoved int64) error {
	contextWithTimeout, cancel := context.WithTimeout(ctx, metrics.SinkTimeout)
	defer cancel()
	return e.metricsSink.Send(contextWithTimeout, metrics.NewChunkMetrics(processingTime, rowsMoved))
}
