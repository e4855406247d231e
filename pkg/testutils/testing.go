// Package testutils contains some common utilities used exclusively
// by the test suite. Engine tests run against an in-process SQLite
// database with the unsharded and sharded schemas attached, which
// exercises the same multi-schema statement shapes the production
// cluster sees without needing a running cluster.
package testutils

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// OpenTestDB returns an open database with empty unsharded_public and
// sharded_public schemas attached. The handle is pinned to a single
// connection: attachments are per-connection state, and a single writer
// also serializes concurrent units the way a busy cluster would under
// lock contention.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite3", filepath.Join(dir, "main.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})

	for _, schema := range []string{"unsharded_public", "sharded_public"} {
		_, err = db.ExecContext(t.Context(),
			fmt.Sprintf("ATTACH DATABASE '%s' AS %s", filepath.Join(dir, schema+".db"), schema))
		require.NoError(t, err)
	}
	return db
}

func RunSQL(t *testing.T, db *sql.DB, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := db.ExecContext(t.Context(), stmt)
		require.NoError(t, err, stmt)
	}
}

// QueryInt runs a query expected to return a single integer, such as a
// COUNT(*) or MAX() aggregate.
func QueryInt(t *testing.T, db *sql.DB, query string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRowContext(t.Context(), query).Scan(&n))
	return n
}
