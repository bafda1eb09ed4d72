package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mailtally/internal/model"
)

// StartRun records a run in the running state.
func (s *SQLiteStore) StartRun(ctx context.Context, run model.RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (run_id, provider, status, started_at)
		VALUES (?, ?, ?, ?)
	`, run.RunID, run.Provider, string(model.StatusRunning), run.StartedAt.Unix())
	if err != nil {
		return storeErr("start run", err)
	}
	return nil
}

// FinishRun stores the final counters and status of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run model.RunSummary) error {
	var lastErr sql.NullString
	if run.LastError != "" {
		lastErr = sql.NullString{String: run.LastError, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (run_id, provider, status, started_at, finished_at, pages, listed, new_items, skipped, errors, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status      = excluded.status,
			finished_at = excluded.finished_at,
			pages       = excluded.pages,
			listed      = excluded.listed,
			new_items   = excluded.new_items,
			skipped     = excluded.skipped,
			errors      = excluded.errors,
			last_error  = excluded.last_error
	`, run.RunID, run.Provider, string(run.Status), run.StartedAt.Unix(), run.FinishedAt.Unix(),
		run.Pages, run.Listed, run.New, run.Skipped, run.Errors, lastErr)
	if err != nil {
		return storeErr("finish run", err)
	}
	return nil
}

// LastRun returns the most recently started run, or nil if none exists.
func (s *SQLiteStore) LastRun(ctx context.Context) (*model.RunSummary, error) {
	runs, err := s.RecentRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, provider, status, started_at, finished_at, pages, listed, new_items, skipped, errors, last_error
		FROM sync_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, storeErr("recent runs", err)
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var (
			r        model.RunSummary
			status   string
			started  int64
			finished sql.NullInt64
			lastErr  sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Provider, &status, &started, &finished,
			&r.Pages, &r.Listed, &r.New, &r.Skipped, &r.Errors, &lastErr); err != nil {
			return nil, storeErr("recent runs", err)
		}
		r.Status = model.RunStatus(status)
		r.StartedAt = time.Unix(started, 0)
		if finished.Valid {
			r.FinishedAt = time.Unix(finished.Int64, 0)
		}
		r.LastError = lastErr.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, storeErr("recent runs", err)
	}
	return out, nil
}
