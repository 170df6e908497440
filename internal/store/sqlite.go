package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agis/tempo/internal/contract"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS commitments (
	id         TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	start_ms   INTEGER NOT NULL,
	end_ms     INTEGER NOT NULL,
	completed  INTEGER NOT NULL DEFAULT 0,
	created_ms INTEGER NOT NULL,
	updated_ms INTEGER NOT NULL,
	CHECK (start_ms < end_ms)
);
CREATE INDEX IF NOT EXISTS commitments_owner_start ON commitments (owner, start_ms);
CREATE TABLE IF NOT EXISTS owner_leases (
	owner      TEXT PRIMARY KEY,
	token      TEXT NOT NULL,
	expires_ms INTEGER NOT NULL
);
`

const (
	// leaseTTL bounds how long a crashed process can hold an owner's lease.
	leaseTTL  = 2 * time.Minute
	leasePoll = 10 * time.Millisecond
)

// SQLiteStore keeps instants as epoch milliseconds so range filters compare
// numerically.
type SQLiteStore struct {
	db    *sql.DB
	loc   *time.Location
	now   func() time.Time
	locks ownerLocks
}

func OpenSQLite(ctx context.Context, path string, loc *time.Location) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("empty store path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps :memory: databases alive and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &SQLiteStore{db: db, loc: loc, now: time.Now}, nil
}

func (s *SQLiteStore) List(ctx context.Context, owner string, f Filter) ([]contract.Commitment, error) {
	q := "SELECT id, owner, title, start_ms, end_ms, completed, created_ms, updated_ms FROM commitments WHERE owner = ?"
	args := []any{owner}
	if !f.To.IsZero() {
		q += " AND start_ms < ?"
		args = append(args, f.To.UnixMilli())
	}
	if !f.From.IsZero() {
		q += " AND end_ms > ?"
		args = append(args, f.From.UnixMilli())
	}
	if !f.IncludeDone {
		q += " AND completed = 0"
	}
	q += " ORDER BY start_ms, id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]contract.Commitment, 0)
	for rows.Next() {
		c, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, owner, id string) (*contract.Commitment, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, owner, title, start_ms, end_ms, completed, created_ms, updated_ms FROM commitments WHERE owner = ? AND id = ?", owner, id)
	c, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) Create(ctx context.Context, owner string, in CreateInput) (*contract.Commitment, error) {
	ts := s.now().UnixMilli()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO commitments (id, owner, title, start_ms, end_ms, completed, created_ms, updated_ms) VALUES (?, ?, ?, ?, ?, 0, ?, ?)",
		id, owner, in.Title, in.Start.UnixMilli(), in.End.UnixMilli(), ts, ts)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, owner, id)
}

// UpdateBatch applies all rows in one transaction; a missing row rolls back
// the whole batch.
func (s *SQLiteStore) UpdateBatch(ctx context.Context, owner string, items []contract.Commitment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	ts := s.now().UnixMilli()
	for _, it := range items {
		res, err := tx.ExecContext(ctx,
			"UPDATE commitments SET title = ?, start_ms = ?, end_ms = ?, completed = ?, updated_ms = ? WHERE owner = ? AND id = ?",
			it.Title, it.Start.UnixMilli(), it.End.UnixMilli(), boolInt(it.Completed), ts, owner, it.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, it.ID)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SetCompleted(ctx context.Context, owner, id string, done bool) (*contract.Commitment, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE commitments SET completed = ?, updated_ms = ? WHERE owner = ? AND id = ?", boolInt(done), s.now().UnixMilli(), owner, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Get(ctx, owner, id)
}

func (s *SQLiteStore) Delete(ctx context.Context, owner, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM commitments WHERE owner = ? AND id = ?", owner, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Guard holds the owner's lease row for the duration of fn, so processes
// sharing one database file serialise their read-classify-write sections.
// The in-process lock keeps goroutines of this store from polling each other.
func (s *SQLiteStore) Guard(ctx context.Context, owner string, fn func(context.Context) error) error {
	return s.locks.guard(ctx, owner, func(ctx context.Context) error {
		token := uuid.NewString()
		if err := s.acquireLease(ctx, owner, token); err != nil {
			return err
		}
		defer s.releaseLease(owner, token)
		return fn(ctx)
	})
}

// acquireLease claims the owner's row, taking over an expired one, and polls
// until it succeeds or ctx ends.
func (s *SQLiteStore) acquireLease(ctx context.Context, owner, token string) error {
	ticker := time.NewTicker(leasePoll)
	defer ticker.Stop()
	for {
		now := s.now().UnixMilli()
		res, err := s.db.ExecContext(ctx, `INSERT INTO owner_leases (owner, token, expires_ms) VALUES (?, ?, ?)
ON CONFLICT(owner) DO UPDATE SET token = excluded.token, expires_ms = excluded.expires_ms
WHERE owner_leases.expires_ms <= ?`, owner, token, now+leaseTTL.Milliseconds(), now)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("acquire lease: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *SQLiteStore) releaseLease(owner, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = s.db.ExecContext(ctx, "DELETE FROM owner_leases WHERE owner = ? AND token = ?", owner, token)
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scan(r scanner) (contract.Commitment, error) {
	var c contract.Commitment
	var startMS, endMS, createdMS, updatedMS int64
	var completed int
	if err := r.Scan(&c.ID, &c.Owner, &c.Title, &startMS, &endMS, &completed, &createdMS, &updatedMS); err != nil {
		return contract.Commitment{}, err
	}
	c.Start = time.UnixMilli(startMS).In(s.loc)
	c.End = time.UnixMilli(endMS).In(s.loc)
	c.Completed = completed != 0
	c.CreatedAt = time.UnixMilli(createdMS).UTC()
	c.UpdatedAt = time.UnixMilli(updatedMS).UTC()
	return c, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
