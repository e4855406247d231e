package substrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // journal storage
)

// SQLiteJournal persists unit status in a local SQLite file. The file is
// the job's durable record: a crashed process reopened against the same
// file resumes with only its unfinished units re-issued.
type SQLiteJournal struct {
	db    *sql.DB
	jobID string
}

var _ Journal = (*SQLiteJournal)(nil)

// OpenSQLiteJournal opens (or creates) the journal at path. A fresh
// journal is stamped with a new job id; an existing one keeps the id of
// the job it belongs to.
func OpenSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// The journal is written from many chunk goroutines at once.
	db.SetMaxOpenConns(1)
	j := &SQLiteJournal{db: db}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *SQLiteJournal) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS units (
			id TEXT NOT NULL PRIMARY KEY,
			plan TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			rows_moved INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memos (
			key TEXT NOT NULL PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS job (
			id TEXT NOT NULL PRIMARY KEY,
			started_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("init journal: %w", err)
		}
	}
	err := j.db.QueryRow(`SELECT id FROM job LIMIT 1`).Scan(&j.jobID)
	if err == sql.ErrNoRows {
		j.jobID = uuid.New().String()
		_, err = j.db.Exec(`INSERT INTO job (id, started_at) VALUES (?, ?)`, j.jobID, time.Now())
	}
	if err != nil {
		return fmt.Errorf("init journal: %w", err)
	}
	return nil
}

// JobID identifies the job this journal belongs to.
func (j *SQLiteJournal) JobID() string {
	return j.jobID
}

func (j *SQLiteJournal) Begin(ctx context.Context, unit Unit) (bool, error) {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO units (id, plan, status, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		unit.ID, unit.Plan, StatusPending, time.Now())
	if err != nil {
		return false, fmt.Errorf("journal begin %s: %w", unit.ID, err)
	}
	var status Status
	if err := j.db.QueryRowContext(ctx, `SELECT status FROM units WHERE id = ?`, unit.ID).Scan(&status); err != nil {
		return false, fmt.Errorf("journal begin %s: %w", unit.ID, err)
	}
	return status == StatusCompleted, nil
}

func (j *SQLiteJournal) RecordAttempt(ctx context.Context, id string) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE units SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		StatusInFlight, time.Now(), id)
	if err != nil {
		return fmt.Errorf("journal attempt %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errUnknownUnit(id)
	}
	return nil
}

func (j *SQLiteJournal) MarkCompleted(ctx context.Context, id string, rowsMoved int64) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE units SET status = ?, rows_moved = ?, updated_at = ? WHERE id = ?`,
		StatusCompleted, rowsMoved, time.Now(), id)
	if err != nil {
		return fmt.Errorf("journal complete %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errUnknownUnit(id)
	}
	return nil
}

func (j *SQLiteJournal) Get(ctx context.Context, id string) (Record, bool, error) {
	var rec Record
	err := j.db.QueryRowContext(ctx,
		`SELECT id, plan, status, attempts, rows_moved, updated_at FROM units WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Plan, &rec.Status, &rec.Attempts, &rec.RowsMoved, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("journal get %s: %w", id, err)
	}
	return rec, true, nil
}

func (j *SQLiteJournal) Memo(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := j.db.QueryRowContext(ctx, `SELECT value FROM memos WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("journal memo %s: %w", key, err)
	}
	return value, true, nil
}

func (j *SQLiteJournal) SetMemo(ctx context.Context, key, value string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO memos (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("journal set memo %s: %w", key, err)
	}
	return nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func errUnknownUnit(id string) error {
	return fmt.Errorf("unit %s was never submitted", id)
}
