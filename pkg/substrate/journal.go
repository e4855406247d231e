package substrate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a unit's durably recorded state. In-flight units revert to
// pending on restart: the attempt may or may not have committed, which is
// exactly the case the idempotent statement pattern exists for.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in-flight"
	StatusCompleted Status = "completed"
)

// Record is the journal's view of one unit.
type Record struct {
	ID        string
	Plan      string
	Status    Status
	Attempts  int
	RowsMoved int64
	UpdatedAt time.Time
}

// Journal persists per-unit status and memoized operation results. It is
// the only durable state the migration engine relies on; everything else
// is re-derived from the plan catalog on restart.
type Journal interface {
	// Begin registers a unit as pending if it has not been seen before.
	// It reports true if the unit is already completed.
	Begin(ctx context.Context, unit Unit) (completed bool, err error)

	// RecordAttempt marks the unit in-flight and increments its attempt
	// counter.
	RecordAttempt(ctx context.Context, id string) error

	// MarkCompleted records the unit as done along with how many rows it
	// moved.
	MarkCompleted(ctx context.Context, id string, rowsMoved int64) error

	// Get returns the record for a unit, if any.
	Get(ctx context.Context, id string) (Record, bool, error)

	// Memo returns a previously recorded operation result.
	Memo(ctx context.Context, key string) (value string, ok bool, err error)

	// SetMemo durably records an operation result.
	SetMemo(ctx context.Context, key, value string) error

	Close() error
}

// MemoryJournal keeps all state in process memory. It provides the
// at-least-once retry semantics but not crash resumption; it exists for
// tests and for callers that accept restarting from scratch.
type MemoryJournal struct {
	mu    sync.Mutex
	jobID string
	units map[string]*Record
	memos map[string]string
}

var _ Journal = (*MemoryJournal)(nil)

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		jobID: uuid.New().String(),
		units: make(map[string]*Record),
		memos: make(map[string]string),
	}
}

func (j *MemoryJournal) JobID() string {
	return j.jobID
}

func (j *MemoryJournal) Begin(_ context.Context, unit Unit) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if rec, ok := j.units[unit.ID]; ok {
		return rec.Status == StatusCompleted, nil
	}
	j.units[unit.ID] = &Record{
		ID:        unit.ID,
		Plan:      unit.Plan,
		Status:    StatusPending,
		UpdatedAt: time.Now(),
	}
	return false, nil
}

func (j *MemoryJournal) RecordAttempt(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.units[id]
	if !ok {
		return errUnknownUnit(id)
	}
	rec.Status = StatusInFlight
	rec.Attempts++
	rec.UpdatedAt = time.Now()
	return nil
}

func (j *MemoryJournal) MarkCompleted(_ context.Context, id string, rowsMoved int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.units[id]
	if !ok {
		return errUnknownUnit(id)
	}
	rec.Status = StatusCompleted
	rec.RowsMoved = rowsMoved
	rec.UpdatedAt = time.Now()
	return nil
}

func (j *MemoryJournal) Get(_ context.Context, id string) (Record, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.units[id]
	if !ok {
		return Record{}, false, nil
	}
	return *rec, true, nil
}

func (j *MemoryJournal) Memo(_ context.Context, key string) (string, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	value, ok := j.memos[key]
	return value, ok, nil
}

func (j *MemoryJournal) SetMemo(_ context.Context, key, value string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.memos[key] = value
	return nil
}

func (j *MemoryJournal) Close() error {
	return nil
}
