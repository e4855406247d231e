// Package dbconn contains a series of database-related utility functions.
package dbconn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	errSerializationFailure = "40001"
	errDeadlockDetected     = "40P01"
	errLockNotAvailable     = "55P03"
	errTooManyConnections   = "53300"
	errCannotConnectNow     = "57P03"
	errAdminShutdown        = "57P01"
	connectionExceptions    = "08" // SQLSTATE class: connection loss mid-statement
)

const maxConnLifetime = time.Minute * 3

type DBConfig struct {
	MaxOpenConnections int
	LockTimeout        time.Duration
}

func NewDBConfig() *DBConfig {
	return &DBConfig{
		MaxOpenConnections: 32, // overwritten by the user thread count + 2 for headroom
		LockTimeout:        30 * time.Second,
	}
}

// New opens a connection pool to a PostgreSQL DSN with our usual
// session defaults applied.
func New(dsn string, config *DBConfig) (*sql.DB, error) {
	dsn, err := sessionDSN(dsn, config)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(config.MaxOpenConnections)
	db.SetConnMaxLifetime(maxConnLifetime)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// sessionDSN folds our session settings into the conninfo as run-time
// parameters. lib/pq sends these in every connection's startup packet,
// so the settings hold on all pooled connections, not just whichever
// connection a SET statement happened to run on.
func sessionDSN(dsn string, config *DBConfig) (string, error) {
	if config.LockTimeout <= 0 {
		return dsn, nil
	}
	// An integer value is interpreted as milliseconds by the server.
	timeout := fmt.Sprintf("%d", config.LockTimeout.Milliseconds())
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse dsn: %w", err)
		}
		query := u.Query()
		query.Set("lock_timeout", timeout)
		u.RawQuery = query.Encode()
		return u.String(), nil
	}
	// Keyword/value conninfo form.
	return dsn + " lock_timeout=" + timeout, nil
}

// IsRetryableError looks at a store error and decides if it is transient
// (connection loss, lock contention, serialization failure) or a permanent
// failure. The execution substrate consults this to decide whether a unit
// of work should be retried or fail fast.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch string(pqErr.Code) {
	case errSerializationFailure, errDeadlockDetected, errLockNotAvailable,
		errTooManyConnections, errCannotConnectNow, errAdminShutdown:
		return true
	}
	return pqErr.Code.Class() == connectionExceptions
}

// TransactionExec executes all statements as a single transaction: either
// every statement's effects commit or none do. It makes exactly one
// attempt; retry policy belongs to the caller's execution substrate, not
// here. The returned count is the sum of affected rows across statements
// that report one.
func TransactionExec(ctx context.Context, db *sql.DB, stmts ...string) (int64, error) {
	trx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	var rowsAffected int64
	for _, stmt := range stmts {
		if stmt == "" {
			continue
		}
		res, err := trx.ExecContext(ctx, stmt)
		if err != nil {
			_ = trx.Rollback()
			return 0, err
		}
		// Some statements (CREATE TEMPORARY TABLE etc.) don't support
		// affected rows; that's absolutely fine.
		if count, errC := res.RowsAffected(); errC == nil {
			rowsAffected += count
		}
	}
	if err := trx.Commit(); err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// Exec is like db.Exec but only returns an error.
// This makes it a little bit easier to use in error handling.
func Exec(ctx context.Context, db *sql.DB, stmt string) error {
	_, err := db.ExecContext(ctx, stmt)
	return err
}

// TableIsEmpty reports whether table currently holds zero rows.
func TableIsEmpty(ctx context.Context, db *sql.DB, table string) (bool, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM (SELECT 1 FROM %s LIMIT 1) AS present", table)
	var present int
	if err := db.QueryRowContext(ctx, query).Scan(&present); err != nil {
		return false, fmt.Errorf("check emptiness of %s: %w", table, err)
	}
	return present == 0, nil
}
