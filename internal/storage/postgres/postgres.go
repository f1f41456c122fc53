// Package postgres implements storage.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michaelbrown/labrunner/internal/execution"
	"github.com/michaelbrown/labrunner/internal/storage"
)

const pingTimeout = 10 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL DEFAULT '',
    exercise_id  TEXT NOT NULL,
    language     TEXT NOT NULL DEFAULT 'python',
    source       TEXT NOT NULL,
    status       TEXT NOT NULL CHECK (status IN ('passed','failed')),
    passed_count INTEGER NOT NULL DEFAULT 0,
    total_count  INTEGER NOT NULL DEFAULT 0,
    results      JSONB NOT NULL DEFAULT '[]',
    hint         TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_submissions_attempts ON submissions (user_id, exercise_id);
CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions (created_at DESC);
`

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, verifies the connection and creates the schema.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{pool: pool}, nil
}

const selectColumns = `SELECT id, user_id, exercise_id, language, source, status,
	passed_count, total_count, results, hint, created_at FROM submissions`

func (s *Store) CreateSubmission(ctx context.Context, sub *storage.Submission) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	results, err := json.Marshal(sub.Results)
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO submissions (id, user_id, exercise_id, language, source, status,
			passed_count, total_count, results, hint, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sub.ID, sub.UserID, sub.ExerciseID, string(sub.Language), sub.Source, string(sub.Status),
		sub.PassedCount, sub.TotalCount, results, sub.Hint, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (*storage.Submission, error) {
	sub, err := scanSubmission(s.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("querying submission: %w", err)
	}

	rows, err := s.pool.Query(ctx, selectColumns+` WHERE id LIKE $1 || '%' LIMIT 2`, id)
	if err != nil {
		return nil, fmt.Errorf("querying submission: %w", err)
	}
	matches, err := collect(rows)
	if err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("%w %q", storage.ErrAmbiguous, id)
	}
}

func (s *Store) ListSubmissions(ctx context.Context, opts storage.ListOptions) ([]storage.Submission, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	query := selectColumns + ` WHERE 1=1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND %s = $%d", clause, len(args))
	}
	if opts.UserID != "" {
		add("user_id", opts.UserID)
	}
	if opts.ExerciseID != "" {
		add("exercise_id", opts.ExerciseID)
	}
	if opts.Status != "" {
		add("status", string(opts.Status))
	}
	args = append(args, limit, opts.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	return collect(rows)
}

func (s *Store) CountAttempts(ctx context.Context, userID, exerciseID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE user_id = $1 AND exercise_id = $2`,
		userID, exerciseID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting attempts: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteSubmission(ctx context.Context, id string) error {
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM submissions WHERE id = $1`, sub.ID)
	return err
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func collect(rows pgx.Rows) ([]storage.Submission, error) {
	defer rows.Close()
	subs := []storage.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func scanSubmission(row pgx.Row) (*storage.Submission, error) {
	var sub storage.Submission
	var language, status string
	var results []byte
	err := row.Scan(&sub.ID, &sub.UserID, &sub.ExerciseID, &language, &sub.Source, &status,
		&sub.PassedCount, &sub.TotalCount, &results, &sub.Hint, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(results, &sub.Results); err != nil {
		return nil, fmt.Errorf("unmarshaling results: %w", err)
	}
	sub.Language = execution.Language(language)
	sub.Status = storage.SubmissionStatus(status)
	return &sub, nil
}
