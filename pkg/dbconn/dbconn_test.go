package dbconn

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/block/shardmove/pkg/testutils"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(errors.New("syntax error")))
	assert.False(t, IsRetryableError(context.Canceled))

	assert.True(t, IsRetryableError(driver.ErrBadConn))
	assert.True(t, IsRetryableError(fmt.Errorf("exec: %w", driver.ErrBadConn)))

	retryableCodes := []string{
		"40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03", // lock_not_available
		"53300", // too_many_connections
		"57P03", // cannot_connect_now
		"57P01", // admin_shutdown
		"08006", // connection_failure (class 08)
	}
	for _, code := range retryableCodes {
		err := &pq.Error{Code: pq.ErrorCode(code)}
		assert.True(t, IsRetryableError(err), code)
		assert.True(t, IsRetryableError(fmt.Errorf("exec: %w", err)), code)
	}

	// Permanent statement errors must fail fast.
	for _, code := range []string{"42601", "23505", "42P01"} {
		assert.False(t, IsRetryableError(&pq.Error{Code: pq.ErrorCode(code)}), code)
	}
}

func TestSessionDSN(t *testing.T) {
	config := NewDBConfig()

	// URL form: the timeout rides as a conninfo parameter so it is part
	// of every connection's startup, including pool growth after open.
	dsn, err := sessionDSN("postgres://postgres@localhost:5432/postgres?sslmode=prefer", config)
	require.NoError(t, err)
	assert.Equal(t, "postgres://postgres@localhost:5432/postgres?lock_timeout=30000&sslmode=prefer", dsn)

	// A caller-supplied lock_timeout is replaced, not duplicated.
	dsn, err = sessionDSN("postgres://postgres@localhost:5432/postgres?lock_timeout=1", config)
	require.NoError(t, err)
	assert.Equal(t, "postgres://postgres@localhost:5432/postgres?lock_timeout=30000", dsn)

	// Keyword/value form.
	dsn, err = sessionDSN("host=localhost dbname=postgres", config)
	require.NoError(t, err)
	assert.Equal(t, "host=localhost dbname=postgres lock_timeout=30000", dsn)

	// No timeout configured leaves the DSN untouched.
	dsn, err = sessionDSN("postgres://localhost/postgres", &DBConfig{})
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/postgres", dsn)

	_, err = sessionDSN("postgres://bad\x00dsn", config)
	assert.Error(t, err)
}

func TestTransactionExec(t *testing.T) {
	db := testutils.OpenTestDB(t)
	testutils.RunSQL(t, db, "CREATE TABLE t1 (a INTEGER PRIMARY KEY, b TEXT)")

	rows, err := TransactionExec(t.Context(), db,
		"INSERT INTO t1 VALUES (1, 'a')",
		"", // blank statements are skipped
		"INSERT INTO t1 VALUES (2, 'b')",
	)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rows)
	assert.EqualValues(t, 2, testutils.QueryInt(t, db, "SELECT COUNT(*) FROM t1"))
}

func TestTransactionExecRollsBackAsOne(t *testing.T) {
	db := testutils.OpenTestDB(t)
	testutils.RunSQL(t, db, "CREATE TABLE t2 (a INTEGER PRIMARY KEY)")

	// The second statement fails, so the first must not commit.
	_, err := TransactionExec(t.Context(), db,
		"INSERT INTO t2 VALUES (1)",
		"INSERT INTO no_such_table VALUES (1)",
	)
	require.Error(t, err)
	assert.EqualValues(t, 0, testutils.QueryInt(t, db, "SELECT COUNT(*) FROM t2"))
}

func TestTableIsEmpty(t *testing.T) {
	db := testutils.OpenTestDB(t)
	testutils.RunSQL(t, db, "CREATE TABLE t3 (a INTEGER PRIMARY KEY)")

	empty, err := TableIsEmpty(t.Context(), db, "t3")
	require.NoError(t, err)
	assert.True(t, empty)

	testutils.RunSQL(t, db, "INSERT INTO t3 VALUES (1)")
	empty, err = TableIsEmpty(t.Context(), db, "t3")
	require.NoError(t, err)
	assert.False(t, empty)

	_, err = TableIsEmpty(t.Context(), db, "no_such_table")
	assert.Error(t, err)
}

func TestExec(t *testing.T) {
	db := testutils.OpenTestDB(t)
	assert.NoError(t, Exec(t.Context(), db, "CREATE TABLE t4 (a INTEGER)"))
	assert.Error(t, Exec(t.Context(), db, "CREATE TABLE t4 (a INTEGER)"))
}
