// Package journal persists provisioned transfer jobs in SQLite so that an
// interrupted run can be resumed.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/mega-go/internal/transfer"
)

const (
	sqlUpsertJob = `INSERT INTO jobs
		(id, direction, source, parent, name, size, state, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 name = excluded.name,
		 size = excluded.size,
		 state = excluded.state,
		 error = excluded.error,
		 updated_at = excluded.updated_at`

	sqlDeleteJob = `DELETE FROM jobs WHERE id = ?`

	sqlClearJobs = `DELETE FROM jobs`

	sqlListJobs = `SELECT id, direction, source, parent, name, size, state, error,
		created_at, updated_at
		FROM jobs ORDER BY created_at, id`
)

// Entry is one journaled job.
type Entry struct {
	ID        string
	Direction transfer.Direction
	Source    string
	Parent    string
	Name      string
	Size      int64
	State     string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Job recreates a schedulable job under the journaled id.
func (e *Entry) Job() *transfer.Job {
	return transfer.RestoreJob(e.ID, e.Direction, e.Source, e.Parent)
}

// Store is the job journal. It implements transfer.Journal.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens the journal database at dbPath, creating and migrating it as
// needed.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("journal opened", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("journal: closing database: %w", err)
	}

	return nil
}

// Save inserts or updates j. The creation time of an existing row is kept.
func (s *Store) Save(ctx context.Context, j *transfer.Job) error {
	now := s.nowFunc().UnixNano()

	var errText sql.NullString
	if err := j.Err(); err != nil {
		errText = sql.NullString{String: err.Error(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, sqlUpsertJob,
		j.ID, j.Direction.String(), j.Source, j.Parent, j.Name(), j.Size(),
		j.State().String(), errText, now, now,
	)
	if err != nil {
		return fmt.Errorf("journal: saving job %s: %w", j.ID, err)
	}

	return nil
}

// Delete removes the job with the given id. Deleting an unknown id is not
// an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteJob, id); err != nil {
		return fmt.Errorf("journal: deleting job %s: %w", id, err)
	}

	return nil
}

// Clear removes every job and returns how many there were.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqlClearJobs)
	if err != nil {
		return 0, fmt.Errorf("journal: clearing jobs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("journal: clearing jobs: %w", err)
	}

	s.logger.Info("journal cleared", slog.Int64("jobs", n))

	return n, nil
}

// Pending lists journaled jobs, oldest first.
func (s *Store) Pending(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, sqlListJobs)
	if err != nil {
		return nil, fmt.Errorf("journal: listing jobs: %w", err)
	}
	defer rows.Close()

	var out []Entry

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating jobs: %w", err)
	}

	return out, nil
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		e         Entry
		direction string
		errText   sql.NullString
		created   int64
		updated   int64
	)

	if err := rows.Scan(&e.ID, &direction, &e.Source, &e.Parent, &e.Name, &e.Size,
		&e.State, &errText, &created, &updated); err != nil {
		return nil, fmt.Errorf("journal: scanning job: %w", err)
	}

	dir, err := transfer.ParseDirection(direction)
	if err != nil {
		return nil, fmt.Errorf("journal: job %s: %w", e.ID, err)
	}

	e.Direction = dir
	e.Error = errText.String
	e.CreatedAt = time.Unix(0, created)
	e.UpdatedAt = time.Unix(0, updated)

	return &e, nil
}
