package substrate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openJournal(t *testing.T, path string) *SQLiteJournal {
	t.Helper()
	journal, err := OpenSQLiteJournal(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = journal.Close()
	})
	return journal
}

func TestSQLiteJournalLifecycle(t *testing.T) {
	journal := openJournal(t, filepath.Join(t.TempDir(), "job.journal"))
	assert.NotEmpty(t, journal.JobID())

	unit := Unit{ID: "visits/chunk/1-10", Plan: "visits"}
	completed, err := journal.Begin(t.Context(), unit)
	require.NoError(t, err)
	assert.False(t, completed)

	// Begin is idempotent.
	completed, err = journal.Begin(t.Context(), unit)
	require.NoError(t, err)
	assert.False(t, completed)

	require.NoError(t, journal.RecordAttempt(t.Context(), unit.ID))
	require.NoError(t, journal.RecordAttempt(t.Context(), unit.ID))
	rec, ok, err := journal.Get(t.Context(), unit.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusInFlight, rec.Status)
	assert.Equal(t, 2, rec.Attempts)

	require.NoError(t, journal.MarkCompleted(t.Context(), unit.ID, 42))
	completed, err = journal.Begin(t.Context(), unit)
	require.NoError(t, err)
	assert.True(t, completed)

	rec, ok, err = journal.Get(t.Context(), unit.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.EqualValues(t, 42, rec.RowsMoved)
}

func TestSQLiteJournalUnknownUnit(t *testing.T) {
	journal := openJournal(t, filepath.Join(t.TempDir(), "job.journal"))
	assert.ErrorContains(t, journal.RecordAttempt(t.Context(), "nope"), "never submitted")
	assert.ErrorContains(t, journal.MarkCompleted(t.Context(), "nope", 0), "never submitted")

	_, ok, err := journal.Get(t.Context(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteJournalSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.journal")

	journal := openJournal(t, path)
	jobID := journal.JobID()
	done := Unit{ID: "visits/chunk/1-10", Plan: "visits"}
	pending := Unit{ID: "visits/chunk/11-20", Plan: "visits"}
	_, err := journal.Begin(t.Context(), done)
	require.NoError(t, err)
	_, err = journal.Begin(t.Context(), pending)
	require.NoError(t, err)
	require.NoError(t, journal.RecordAttempt(t.Context(), done.ID))
	require.NoError(t, journal.MarkCompleted(t.Context(), done.ID, 10))
	require.NoError(t, journal.SetMemo(t.Context(), "visits/bounds", "1:20"))
	require.NoError(t, journal.Close())

	// Same file, new process: completed work is absorbed, unfinished
	// work is not, and recorded results replay verbatim.
	reopened := openJournal(t, path)
	assert.Equal(t, jobID, reopened.JobID())

	completed, err := reopened.Begin(t.Context(), done)
	require.NoError(t, err)
	assert.True(t, completed)

	completed, err = reopened.Begin(t.Context(), pending)
	require.NoError(t, err)
	assert.False(t, completed)

	value, ok, err := reopened.Memo(t.Context(), "visits/bounds")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1:20", value)
}

func TestSQLiteJournalMemoOverwrite(t *testing.T) {
	journal := openJournal(t, filepath.Join(t.TempDir(), "job.journal"))

	_, ok, err := journal.Memo(t.Context(), "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, journal.SetMemo(t.Context(), "k", "v1"))
	require.NoError(t, journal.SetMemo(t.Context(), "k", "v2"))
	value, ok, err := journal.Memo(t.Context(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", value)
}

func TestPoolWithSQLiteJournalResumes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.journal")
	exec := newScriptedExecutor()

	journal := openJournal(t, path)
	pool := newTestPool(t, journal, exec, testPolicy(3))
	require.NoError(t, pool.Submit(t.Context(), Unit{ID: "u/0", Plan: "p", Timeout: time.Second}))
	require.NoError(t, pool.Submit(t.Context(), Unit{ID: "u/1", Plan: "p", Timeout: time.Second}))
	require.NoError(t, pool.AwaitAll(t.Context()))
	require.NoError(t, journal.Close())

	// A restarted job re-submits everything; nothing re-executes.
	reopened := openJournal(t, path)
	pool = newTestPool(t, reopened, exec, testPolicy(3))
	require.NoError(t, pool.Submit(t.Context(), Unit{ID: "u/0", Plan: "p", Timeout: time.Second}))
	require.NoError(t, pool.Submit(t.Context(), Unit{ID: "u/1", Plan: "p", Timeout: time.Second}))
	require.NoError(t, pool.AwaitAll(t.Context()))
	assert.Equal(t, 1, exec.executions("u/0"))
	assert.Equal(t, 1, exec.executions("u/1"))
}
