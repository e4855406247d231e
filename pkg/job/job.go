// Package job orchestrates a multi-table migration: it walks an ordered
// plan catalog and, for each plan, discovers key bounds, fans out chunk
// moves through the durable execution substrate, waits on the barrier, and
// sweeps the drained source. The orchestrator holds no durable state of
// its own; a restarted job re-derives the same units and the substrate's
// journal filters out the completed ones.
package job

import (
	"context"
	"log/slog"

	"github.com/block/shardmove/pkg/plan"
)

type Job struct {
	DSN         string `name:"dsn" help:"Cluster to run the migration against." default:"postgres://postgres@localhost:5432/postgres?sslmode=prefer"`
	Conf        string `name:"conf" optional:"" help:"Path to an ini file with connection credentials, used instead of --dsn."`
	Threads     int    `name:"threads" help:"How many chunk moves to run in parallel." default:"4"`
	JournalPath string `name:"journal-path" help:"File where unit-of-work state is persisted for crash resumption." default:"shardmove.journal"`

	// Plans is the ordered catalog this job executes. It is authored
	// data, set programmatically; ordering is significant.
	Plans plan.Catalog `kong:"-"`

	Logger *slog.Logger `kong:"-"`
}

func (j *Job) Run() error {
	runner, err := NewRunner(j)
	if err != nil {
		return err
	}
	defer runner.Close()
	return runner.Run(context.TODO())
}
