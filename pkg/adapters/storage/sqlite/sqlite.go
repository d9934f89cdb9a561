// Package sqlite persists orchestration instances in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/aescanero/newsroom/pkg/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS instances (
    story_id    TEXT PRIMARY KEY,
    stage       TEXT NOT NULL,
    status      TEXT NOT NULL,
    version     INTEGER NOT NULL,
    body        TEXT NOT NULL,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status);
`

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements ports.InstanceStore backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the instance database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer connection: pragmas apply per connection and SQLite
	// serializes writes anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new instance at version 1.
func (s *Store) Create(ctx context.Context, inst *domain.Instance) error {
	inst.Version = 1
	body, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO instances (story_id, stage, status, version, body, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(inst.StoryID),
		string(inst.Stage),
		string(inst.Status),
		inst.Version,
		string(body),
		inst.CreatedAt.UTC().Format(timeLayout),
		inst.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", domain.ErrInstanceExists, inst.StoryID)
		}
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// Get fetches an instance by story.
func (s *Store) Get(ctx context.Context, id domain.StoryID) (*domain.Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT body FROM instances WHERE story_id = ?`, string(id))
	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
		}
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return decode(body)
}

// CompareAndSwap updates the row only while its version still equals expected.
func (s *Store) CompareAndSwap(ctx context.Context, inst *domain.Instance, expected int64) error {
	next := *inst
	next.Version = expected + 1
	body, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE instances
            SET stage = ?, status = ?, version = ?, body = ?, updated_at = ?
          WHERE story_id = ? AND version = ?`,
		string(next.Stage),
		string(next.Status),
		next.Version,
		string(body),
		next.UpdatedAt.UTC().Format(timeLayout),
		string(inst.StoryID),
		expected,
	)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := s.Get(ctx, inst.StoryID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s expected version %d", domain.ErrVersionConflict, inst.StoryID, expected)
	}

	inst.Version = next.Version
	return nil
}

// List returns all instances ordered by creation time.
func (s *Store) List(ctx context.Context) ([]*domain.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM instances ORDER BY created_at, story_id`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []*domain.Instance
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		inst, err := decode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return out, nil
}

func decode(body string) (*domain.Instance, error) {
	var inst domain.Instance
	if err := json.Unmarshal([]byte(body), &inst); err != nil {
		return nil, fmt.Errorf("unmarshal instance: %w", err)
	}
	return &inst, nil
}
