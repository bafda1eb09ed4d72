package store

import (
	"context"
	"time"
)

// Has reports whether the item id was already processed.
func (s *SQLiteStore) Has(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM seen_mails WHERE mail_id = ?", id).Scan(&n)
	if err != nil {
		return false, storeErr("has", err)
	}
	return n > 0, nil
}

// MarkSeen records id as processed and attributed to sender. Re-marking an
// existing id is a no-op.
func (s *SQLiteStore) MarkSeen(ctx context.Context, id, sender string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO seen_mails (mail_id, sender, seen_at) VALUES (?, ?, ?)",
		id, sender, time.Now().Unix())
	if err != nil {
		return storeErr("mark seen", err)
	}
	return nil
}

// Count returns the number of distinct processed items.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM seen_mails").Scan(&count); err != nil {
		return 0, storeErr("count", err)
	}
	return count, nil
}
