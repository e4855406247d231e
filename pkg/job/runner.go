package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/block/shardmove/pkg/dbconn"
	"github.com/block/shardmove/pkg/executor"
	"github.com/block/shardmove/pkg/metrics"
	"github.com/block/shardmove/pkg/partition"
	"github.com/block/shardmove/pkg/plan"
	"github.com/block/shardmove/pkg/status"
	"github.com/block/shardmove/pkg/substrate"
	"github.com/block/shardmove/pkg/sweep"
)

var (
	// boundsTimeout covers bounds discovery, which is a pair of
	// aggregate queries; sweepTimeout covers the emptiness probe plus
	// the TRUNCATE. Both are short operations given generous budgets.
	boundsTimeout = 2 * time.Hour
	sweepTimeout  = 2 * time.Hour

	// moveTimeout bounds a single chunk transaction. Chunks on the
	// widest tables can take a very long time under load, and aborting
	// one throws away all of its progress, so this is sized in days.
	moveTimeout = 4 * 24 * time.Hour

	// newDB is swapped by tests that run against an embedded database.
	newDB = dbconn.New
)

type Runner struct {
	job      *Job
	db       *sql.DB
	journal  substrate.Journal
	pool     *substrate.Pool
	status   status.State
	dbConfig *dbconn.DBConfig

	// Track some key statistics.
	startTime time.Time

	mu          sync.Mutex
	currentPlan string
	plansDone   int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
}

var _ status.Task = (*Runner)(nil)

func NewRunner(j *Job) (*Runner, error) {
	r := &Runner{
		job:    j,
		logger: j.Logger,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

func (r *Runner) Close() error {
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			return err
		}
	}
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// unitExecutor dispatches units of work to the engine components.
type unitExecutor struct {
	chunks  *executor.ChunkExecutor
	sweeper *sweep.Sweeper
}

var _ substrate.Executor = (*unitExecutor)(nil)

func (u *unitExecutor) Execute(ctx context.Context, unit substrate.Unit) (int64, error) {
	switch unit.Kind {
	case substrate.KindMove:
		return u.chunks.MoveChunk(ctx, unit.Statements)
	case substrate.KindSweep:
		return 0, u.sweeper.TruncateIfEmpty(ctx, unit.Table)
	}
	return 0, fmt.Errorf("unknown unit kind %q for unit %s", unit.Kind, unit.ID)
}

func (r *Runner) Run(ctx context.Context) error {
	ctx, r.cancelFunc = context.WithCancel(ctx)
	defer r.cancelFunc()
	r.startTime = time.Now()

	// Reject a malformed catalog before touching the cluster. A bad
	// plan discovered hours in would strand earlier plans half-done.
	if err := r.job.Plans.Validate(); err != nil {
		return err
	}

	dsn := r.job.DSN
	if r.job.Conf != "" {
		params, err := newConfParams(r.job.Conf)
		if err != nil {
			return err
		}
		dsn = params.DSN()
	}

	var err error
	r.dbConfig = dbconn.NewDBConfig()
	r.dbConfig.MaxOpenConnections = r.job.Threads + 2
	r.db, err = newDB(dsn, r.dbConfig)
	if err != nil {
		return err
	}

	if err := r.openJournal(); err != nil {
		return err
	}

	pool, err := substrate.NewPool(&substrate.Config{
		Journal:     r.journal,
		Executor:    r.newUnitExecutor(),
		Concurrency: r.job.Threads,
		RetryPolicy: substrate.DefaultRetryPolicy(),
		IsRetryable: dbconn.IsRetryableError,
		Logger:      r.logger,
	})
	if err != nil {
		return err
	}
	r.pool = pool

	r.logger.Info("starting migration job",
		"plans", len(r.job.Plans),
		"threads", r.job.Threads,
	)
	status.WatchTask(ctx, r, r.logger)

	for i, p := range r.job.Plans {
		// Cancellation takes effect between plans only. Chunks already
		// in flight are aborted and rolled back by the substrate, so a
		// canceled job leaves every table either untouched or mid-drain
		// in a resumable state.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("job canceled before plan %s: %w", p.Name(), err)
		}
		if err := r.runPlan(ctx, p); err != nil {
			return err
		}
		r.mu.Lock()
		r.plansDone = i + 1
		r.mu.Unlock()
	}

	r.status.Set(status.Done)
	r.logger.Info("migration job complete",
		"plans", len(r.job.Plans),
		"total-time", time.Since(r.startTime).Round(time.Second),
	)
	return nil
}

func (r *Runner) newUnitExecutor() substrate.Executor {
	return &unitExecutor{
		chunks: executor.NewChunkExecutor(r.db, &executor.Config{
			Logger:      r.logger,
			MetricsSink: &metrics.NoopSink{},
		}),
		sweeper: sweep.NewSweeper(r.db, r.logger),
	}
}

func (r *Runner) openJournal() error {
	if r.job.JournalPath == "" {
		journal := substrate.NewMemoryJournal()
		r.logger.Warn("no journal path configured; job will not survive a restart",
			"job-id", journal.JobID())
		r.journal = journal
		return nil
	}
	journal, err := substrate.OpenSQLiteJournal(r.job.JournalPath)
	if err != nil {
		return err
	}
	r.logger.Info("opened durable journal",
		"path", r.job.JournalPath,
		"job-id", journal.JobID(),
	)
	r.journal = journal
	return nil
}

func (r *Runner) runPlan(ctx context.Context, p plan.Plan) error {
	r.mu.Lock()
	r.currentPlan = p.Name()
	r.mu.Unlock()
	r.logger.Info("starting plan", "table", p.Source())

	switch pl := p.(type) {
	case *plan.PartitionedPlan:
		return r.runPartitionedPlan(ctx, pl)
	case plan.RangeLike:
		return r.runRangePlan(ctx, pl)
	}
	return fmt.Errorf("plan %s has unsupported type %T", p.Name(), p)
}

// runRangePlan drives the discover/fan-out/barrier/sweep cycle for one
// range-chunked table.
func (r *Runner) runRangePlan(ctx context.Context, pl plan.RangeLike) error {
	r.status.Set(status.DiscoverBounds)
	recorded, err := r.pool.Do(ctx, pl.Name()+"/bounds", boundsTimeout,
		func(ctx context.Context) (string, error) {
			bounds, err := partition.DiscoverBounds(ctx, r.db, pl.Source(), pl.RangeColumn())
			if err != nil {
				return "", err
			}
			return bounds.String(), nil
		})
	if err != nil {
		return err
	}
	bounds, err := partition.ParseBounds(recorded)
	if err != nil {
		return err
	}

	if bounds.Empty {
		r.logger.Warn("source table is empty, nothing to move", "table", pl.Source())
		r.status.Set(status.Skipped)
		// An empty source still gets swept so the table does not
		// linger on the old schema.
		return r.sweepTables(ctx, pl.Name(), []string{pl.Source()})
	}

	chunks := partition.Chunks(bounds.Min, bounds.Max, pl.Width())
	r.logger.Info("discovered key bounds",
		"table", pl.Source(),
		"min", bounds.Min,
		"max", bounds.Max,
		"chunks", len(chunks),
	)

	r.status.Set(status.MoveChunks)
	for _, chunk := range chunks {
		unit := substrate.Unit{
			ID:         fmt.Sprintf("%s/chunk/%d-%d", pl.Name(), chunk.Start, chunk.End),
			Plan:       pl.Name(),
			Kind:       substrate.KindMove,
			Statements: pl.ChunkStatements(chunk),
			Timeout:    moveTimeout,
		}
		if err := r.pool.Submit(ctx, unit); err != nil {
			return err
		}
	}
	if err := r.pool.AwaitAll(ctx); err != nil {
		return err
	}

	return r.sweepTables(ctx, pl.Name(), []string{pl.Source()})
}

// runPartitionedPlan drains each physical sub-relation of a partitioned
// source in full, one unit per sub-relation, then sweeps them all.
func (r *Runner) runPartitionedPlan(ctx context.Context, pl *plan.PartitionedPlan) error {
	r.status.Set(status.DiscoverBounds)
	recorded, err := r.pool.Do(ctx, pl.Name()+"/max-id", boundsTimeout,
		func(ctx context.Context) (string, error) {
			bounds, err := partition.MaxID(ctx, r.db, pl.Source(), pl.IDColumn)
			if err != nil {
				return "", err
			}
			return bounds.String(), nil
		})
	if err != nil {
		return err
	}
	bounds, err := partition.ParseBounds(recorded)
	if err != nil {
		return err
	}

	if bounds.Empty {
		// With no max key we cannot enumerate sub-relations, so there
		// is nothing to drain and nothing to sweep.
		r.logger.Warn("partitioned source is empty, nothing to move", "table", pl.Source())
		r.status.Set(status.Skipped)
		r.setPlanDone()
		return nil
	}

	count := partition.Count(bounds.Max, pl.PartitionWidth)
	r.logger.Info("discovered partitioned source extent",
		"table", pl.Source(),
		"max", bounds.Max,
		"sub-relations", count,
	)

	r.status.Set(status.MoveChunks)
	tables := make([]string, 0, count)
	for i := range count {
		unit := substrate.Unit{
			ID:         fmt.Sprintf("%s/partition/%d", pl.Name(), i),
			Plan:       pl.Name(),
			Kind:       substrate.KindMove,
			Statements: pl.PartitionStatements(i),
			Timeout:    moveTimeout,
		}
		if err := r.pool.Submit(ctx, unit); err != nil {
			return err
		}
		tables = append(tables, pl.SubTable(i))
	}
	if err := r.pool.AwaitAll(ctx); err != nil {
		return err
	}

	return r.sweepTables(ctx, pl.Name(), tables)
}

// sweepTables removes fully drained sources. Sweeps run only after the
// barrier, so no move transaction can race a TRUNCATE on its own table.
func (r *Runner) sweepTables(ctx context.Context, planName string, tables []string) error {
	r.status.Set(status.Sweep)
	for _, table := range tables {
		unit := substrate.Unit{
			ID:      table + "/sweep",
			Plan:    planName,
			Kind:    substrate.KindSweep,
			Table:   table,
			Timeout: sweepTimeout,
		}
		if err := r.pool.Submit(ctx, unit); err != nil {
			return err
		}
	}
	if err := r.pool.AwaitAll(ctx); err != nil {
		return err
	}
	r.setPlanDone()
	return nil
}

func (r *Runner) setPlanDone() {
	r.status.Set(status.PlanDone)
}

func (r *Runner) Progress() status.Progress {
	return status.Progress{
		CurrentState: r.status.Get(),
		Summary:      r.summary(),
	}
}

func (r *Runner) summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Past the last plan there is nothing "current" to be one ahead of.
	current := r.plansDone + 1
	if current > len(r.job.Plans) {
		current = len(r.job.Plans)
	}
	return fmt.Sprintf("plan %d/%d %s %s",
		current,
		len(r.job.Plans),
		r.currentPlan,
		r.status.Get().String(),
	)
}

func (r *Runner) Status() string {
	state := r.status.Get()
	if state == status.Done {
		return ""
	}
	r.mu.Lock()
	currentPlan, plansDone := r.currentPlan, r.plansDone
	r.mu.Unlock()
	return fmt.Sprintf("migration status: state=%s plan=%s plans-done=%d/%d total-time=%s",
		state.String(),
		currentPlan,
		plansDone,
		len(r.job.Plans),
		time.Since(r.startTime).Round(time.Second),
	)
}

func (r *Runner) Cancel() {
	if r.cancelFunc != nil {
		r.cancelFunc()
	}
}

func (r *Runner) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// ErrCanceled reports whether err is a cancellation rather than a
// migration failure, for callers that want distinct exit codes.
func ErrCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
