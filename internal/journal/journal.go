// Package journal records backup operations and archive checksums in SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxDetailBytes caps the stored detail blob of one operation.
const DefaultMaxDetailBytes = 1 << 20

// ErrNoChecksum is returned when no checksum was recorded for an archive.
var ErrNoChecksum = errors.New("no checksum recorded")

// Kind is the type of a journaled operation.
type Kind string

const (
	KindCreate  Kind = "create"
	KindRestore Kind = "restore"
	KindDelete  Kind = "delete"
)

// Status is the lifecycle state of a journaled operation.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Entry is one journaled operation.
type Entry struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Archive     string          `json:"archive"`
	Status      Status          `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Detail      json.RawMessage `json:"detail,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// Checksum is the recorded digest of an archive file.
type Checksum struct {
	Archive   string    `json:"archive"`
	Algorithm string    `json:"algorithm"`
	Value     string    `json:"checksum"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal persists operation history.
type Journal struct {
	db        *sql.DB
	maxDetail int
	now       func() time.Time
}

// New creates a journal over a bootstrapped database.
func New(db *sql.DB) *Journal {
	return &Journal{
		db:        db,
		maxDetail: DefaultMaxDetailBytes,
		now:       time.Now,
	}
}

// Start records a running operation and returns its id.
func (j *Journal) Start(ctx context.Context, kind Kind, archive string) (string, error) {
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx, `
INSERT INTO operation_log(id, kind, archive, status, started_at)
VALUES(?, ?, ?, ?, ?);
`, id, string(kind), archive, string(StatusRunning), j.timestamp())
	if err != nil {
		return "", fmt.Errorf("insert operation: %w", err)
	}
	return id, nil
}

// Finish marks an operation succeeded (opErr == nil) or failed, storing
// detail as JSON.
func (j *Journal) Finish(ctx context.Context, id string, opErr error, detail any) error {
	if id == "" {
		return fmt.Errorf("operation id is empty")
	}

	var detailJSON any
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("marshal operation detail: %w", err)
		}
		if len(raw) > j.maxDetail {
			return fmt.Errorf("operation detail exceeds max size (%d bytes)", j.maxDetail)
		}
		detailJSON = string(raw)
	}

	status := StatusSucceeded
	var lastError any
	if opErr != nil {
		status = StatusFailed
		lastError = opErr.Error()
	}

	res, err := j.db.ExecContext(ctx, `
UPDATE operation_log
SET status = ?, completed_at = ?, detail = ?, last_error = ?
WHERE id = ?;
`, string(status), j.timestamp(), detailJSON, lastError, id)
	if err != nil {
		return fmt.Errorf("update operation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("operation %s not found", id)
	}
	return nil
}

// List returns the most recent operations first. limit <= 0 means no limit.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, kind, archive, status, started_at, completed_at, detail, last_error
FROM operation_log
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			kind        string
			status      string
			startedAt   string
			completedAt sql.NullString
			detail      sql.NullString
			lastError   sql.NullString
		)
		if err := rows.Scan(&e.ID, &kind, &e.Archive, &status, &startedAt, &completedAt, &detail, &lastError); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		e.Kind = Kind(kind)
		e.Status = Status(status)
		if e.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if completedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse completed_at: %w", err)
			}
			e.CompletedAt = &t
		}
		if detail.Valid {
			e.Detail = json.RawMessage(detail.String)
		}
		e.LastError = lastError.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordChecksum stores the digest of a freshly written archive.
func (j *Journal) RecordChecksum(ctx context.Context, archive, checksum string, size int64) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO archive_checksum(archive, algorithm, checksum, size, created_at)
VALUES(?, 'blake3', ?, ?, ?)
ON CONFLICT(archive) DO UPDATE SET
  checksum = excluded.checksum,
  size = excluded.size,
  created_at = excluded.created_at;
`, archive, checksum, size, j.timestamp())
	if err != nil {
		return fmt.Errorf("record checksum: %w", err)
	}
	return nil
}

// ChecksumFor returns the recorded checksum of archive.
func (j *Journal) ChecksumFor(ctx context.Context, archive string) (Checksum, error) {
	var (
		c         Checksum
		createdAt string
	)
	err := j.db.QueryRowContext(ctx, `
SELECT archive, algorithm, checksum, size, created_at
FROM archive_checksum WHERE archive = ?;
`, archive).Scan(&c.Archive, &c.Algorithm, &c.Value, &c.Size, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Checksum{}, fmt.Errorf("%w: %s", ErrNoChecksum, archive)
	}
	if err != nil {
		return Checksum{}, fmt.Errorf("read checksum: %w", err)
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Checksum{}, fmt.Errorf("parse checksum created_at: %w", err)
	}
	return c, nil
}

// ForgetChecksum drops the checksum of a deleted archive.
func (j *Journal) ForgetChecksum(ctx context.Context, archive string) error {
	if _, err := j.db.ExecContext(ctx, "DELETE FROM archive_checksum WHERE archive = ?;", archive); err != nil {
		return fmt.Errorf("forget checksum: %w", err)
	}
	return nil
}

func (j *Journal) timestamp() string {
	return j.now().UTC().Format(time.RFC3339Nano)
}
