package executor

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/block/shardmove/pkg/metrics"
	"github.com/block/shardmove/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

// moveStatements is the portable equivalent of the production chunk move:
// a conflict-tolerant insert plus a range-scoped delete in one transaction.
func moveStatements(start, end string) []string {
	return []string{
		"INSERT INTO sharded_public.visits (visits_id, url) " +
			"SELECT visits_id, url FROM unsharded_public.visits " +
			"WHERE visits_id BETWEEN " + start + " AND " + end + " " +
			"ON CONFLICT (visits_id) DO NOTHING",
		"DELETE FROM unsharded_public.visits WHERE visits_id BETWEEN " + start + " AND " + end,
	}
}

func TestMoveChunk(t *testing.T) {
	db := testutils.OpenTestDB(t)
	testutils.RunSQL(t, db,
		"CREATE TABLE unsharded_public.visits (visits_id INTEGER PRIMARY KEY, url TEXT)",
		"CREATE TABLE sharded_public.visits (visits_id INTEGER PRIMARY KEY, url TEXT)",
		"INSERT INTO unsharded_public.visits VALUES (1, 'a'), (2, 'b'), (5, 'c'), (11, 'd')",
	)
	e := NewChunkExecutor(db, nil)

	rows, err := e.MoveChunk(t.Context(), moveStatements("1", "10"))
	require.NoError(t, err)
	// insert and delete each report the chunk's three rows
	assert.EqualValues(t, 6, rows)
	assert.EqualValues(t, 3, testutils.QueryInt(t, db, "SELECT COUNT(*) FROM sharded_public.visits"))
	assert.EqualValues(t, 1, testutils.QueryInt(t, db, "SELECT COUNT(*) FROM unsharded_public.visits"))
}

func TestMoveChunkRedeliveryIsNoop(t *testing.T) {
	db := testutils.OpenTestDB(t)
	testutils.RunSQL(t, db,
		"CREATE TABLE unsharded_public.visits (visits_id INTEGER PRIMARY KEY, url TEXT)",
		"CREATE TABLE sharded_public.visits (visits_id INTEGER PRIMARY KEY, url TEXT)",
		"INSERT INTO unsharded_public.visits VALUES (1, 'a'), (2, 'b')",
	)
	e := NewChunkExecutor(db, &Config{MetricsSink: &metrics.NoopSink{}})

	rows, err := e.MoveChunk(t.Context(), moveStatements("1", "10"))
	require.NoError(t, err)
	assert.EqualValues(t, 4, rows)

	// A re-delivered chunk finds its range already drained.
	rows, err = e.MoveChunk(t.Context(), moveStatements("1", "10"))
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows)
	assert.EqualValues(t, 2, testutils.QueryInt(t, db, "SELECT COUNT(*) FROM sharded_public.visits"))
}

func TestMoveChunkPartialOverlap(t *testing.T) {
	// Rows already present at the destination are skipped, not duplicated
	// and not an error. This is the crash-between-commit-and-journal case.
	db := testutils.OpenTestDB(t)
	testutils.RunSQL(t, db,
		"CREATE TABLE unsharded_public.visits (visits_id INTEGER PRIMARY KEY, url TEXT)",
		"CREATE TABLE sharded_public.visits (visits_id INTEGER PRIMARY KEY, url TEXT)",
		"INSERT INTO unsharded_public.visits VALUES (1, 'a'), (2, 'b')",
		"INSERT INTO sharded_public.visits VALUES (1, 'a')",
	)
	e := NewChunkExecutor(db, nil)

	_, err := e.MoveChunk(t.Context(), moveStatements("1", "10"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, testutils.QueryInt(t, db, "SELECT COUNT(*) FROM sharded_public.visits"))
	assert.EqualValues(t, 0, testutils.QueryInt(t, db, "SELECT COUNT(*) FROM unsharded_public.visits"))
}

func TestMoveChunkFailureMakesNoChanges(t *testing.T) {
	db := testutils.OpenTestDB(t)
	testutils.RunSQL(t, db,
		"CREATE TABLE unsharded_public.visits (visits_id INTEGER PRIMARY KEY, url TEXT)",
		"INSERT INTO unsharded_public.visits VALUES (1, 'a')",
	)
	e := NewChunkExecutor(db, nil)

	// Destination table missing: the delete must not survive the failed
	// insert.
	stmts := moveStatements("1", "10")
	_, err := e.MoveChunk(t.Context(), []string{stmts[1], stmts[0]})
	require.Error(t, err)
	assert.EqualValues(t, 1, testutils.QueryInt(t, db, "SELECT COUNT(*) FROM unsharded_public.visits"))
}

type failingSink struct{}

func (s *failingSink) Send(_ context.Context, _ *metrics.Metrics) error {
	return errors.New("sink unavailable")
}

func TestMoveChunkMetricsFailureIsNonFatal(t *testing.T) {
	db := testutils.OpenTestDB(t)
	testutils.RunSQL(t, db,
		"CREATE TABLE unsharded_public.visits (visits_id INTEGER PRIMARY KEY, url TEXT)",
		"CREATE TABLE sharded_public.visits (visits_id INTEGER PRIMARY KEY, url TEXT)",
		"INSERT INTO unsharded_public.visits VALUES (1, 'a')",
	)
	e := NewChunkExecutor(db, &Config{MetricsSink: &failingSink{}})

	rows, err := e.MoveChunk(t.Context(), moveStatements("1", "10"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, rows)
}
