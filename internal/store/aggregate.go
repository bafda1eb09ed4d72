package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"mailtally/internal/model"
)

const incrementSQL = `
	INSERT INTO senders (sender, mails_sent) VALUES (?, 1)
	ON CONFLICT(sender) DO UPDATE SET mails_sent = mails_sent + 1
`

// Increment adds one to sender's count, creating the row at 1. The caller
// guarantees each call corresponds to exactly one new item.
func (s *SQLiteStore) Increment(ctx context.Context, sender string) error {
	if _, err := s.db.ExecContext(ctx, incrementSQL, sender); err != nil {
		return storeErr("increment", err)
	}
	return nil
}

// SnapshotOptions controls Snapshot ordering and size.
type SnapshotOptions struct {
	Desc  bool // order by count descending instead of ascending
	Limit int  // 0 means no limit
}

// Snapshot returns (sender, count) pairs ordered by count, ties broken by
// sender ascending.
func (s *SQLiteStore) Snapshot(ctx context.Context, opts SnapshotOptions) ([]model.SenderCount, error) {
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}
	query := fmt.Sprintf("SELECT sender, mails_sent FROM senders ORDER BY mails_sent %s, sender ASC", dir)
	var args []any
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("snapshot", err)
	}
	defer rows.Close()

	var out []model.SenderCount
	for rows.Next() {
		var sc model.SenderCount
		if err := rows.Scan(&sc.Sender, &sc.Count); err != nil {
			return nil, storeErr("snapshot", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("snapshot", err)
	}
	return out, nil
}

// Commit marks id seen and increments sender in one transaction. It returns
// false, without touching the aggregate, when id was already seen.
func (s *SQLiteStore) Commit(ctx context.Context, id, sender string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr("commit", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO seen_mails (mail_id, sender, seen_at) VALUES (?, ?, ?)",
		id, sender, time.Now().Unix())
	if err != nil {
		return false, storeErr("commit", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("commit", err)
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, incrementSQL, sender); err != nil {
		return false, storeErr("commit", err)
	}
	if err := tx.Commit(); err != nil {
		return false, storeErr("commit", err)
	}
	return true, nil
}

// Drift is a sender whose stored count disagrees with the seen records.
type Drift struct {
	Sender   string `json:"sender"`
	Stored   int    `json:"stored"`
	Expected int    `json:"expected"`
}

// ReconcileReport describes what Reconcile found and repaired.
type ReconcileReport struct {
	Drifts       []Drift `json:"drifts"`
	Unattributed int     `json:"unattributed"` // seen rows with no recorded sender
	Applied      bool    `json:"applied"`
}

// LastReconciledKey is the metadata key holding the time of the last applied
// reconcile, RFC 3339 in UTC.
const LastReconciledKey = "last_reconciled_at"

// Reconcile recomputes sender counts from the seen records. With dryRun it
// only reports. Seen rows without a sender cannot be attributed and are
// reported, not counted. An applied reconcile records its time under
// LastReconciledKey.
func (s *SQLiteStore) Reconcile(ctx context.Context, dryRun bool) (ReconcileReport, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ReconcileReport{}, storeErr("reconcile", err)
	}
	defer tx.Rollback()

	var report ReconcileReport
	report.Drifts, err = drifts(ctx, tx)
	if err != nil {
		return ReconcileReport{}, storeErr("reconcile", err)
	}
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM seen_mails WHERE sender IS NULL").Scan(&report.Unattributed); err != nil {
		return ReconcileReport{}, storeErr("reconcile", err)
	}
	if dryRun {
		return report, nil
	}

	for _, d := range report.Drifts {
		if d.Expected == 0 {
			_, err = tx.ExecContext(ctx, "DELETE FROM senders WHERE sender = ?", d.Sender)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO senders (sender, mails_sent) VALUES (?, ?)
				ON CONFLICT(sender) DO UPDATE SET mails_sent = excluded.mails_sent
			`, d.Sender, d.Expected)
		}
		if err != nil {
			return ReconcileReport{}, storeErr("reconcile", err)
		}
	}
	if _, err := tx.ExecContext(ctx, upsertMetadataSQL, LastReconciledKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return ReconcileReport{}, storeErr("reconcile", err)
	}
	if err := tx.Commit(); err != nil {
		return ReconcileReport{}, storeErr("reconcile", err)
	}
	report.Applied = len(report.Drifts) > 0
	return report, nil
}

// LastReconciled returns when Reconcile last ran without dryRun, or the zero
// time if it never did.
func (s *SQLiteStore) LastReconciled(ctx context.Context) (time.Time, error) {
	v, err := s.GetMetadata(ctx, LastReconciledKey)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, storeErr("last reconciled", err)
	}
	return t, nil
}

// drifts compares every sender's stored count with the number of seen
// records attributed to it, in sender order.
func drifts(ctx context.Context, tx *sql.Tx) ([]Drift, error) {
	expected, err := queryCounts(ctx, tx, "SELECT sender, COUNT(*) FROM seen_mails WHERE sender IS NOT NULL GROUP BY sender")
	if err != nil {
		return nil, err
	}
	stored, err := queryCounts(ctx, tx, "SELECT sender, mails_sent FROM senders")
	if err != nil {
		return nil, err
	}

	var out []Drift
	for sender, want := range expected {
		if stored[sender] != want {
			out = append(out, Drift{Sender: sender, Stored: stored[sender], Expected: want})
		}
	}
	for sender, have := range stored {
		if _, ok := expected[sender]; !ok {
			out = append(out, Drift{Sender: sender, Stored: have, Expected: 0})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sender < out[j].Sender })
	return out, nil
}

// InvariantReport compares the aggregate with the dedup store, in total and
// per sender.
type InvariantReport struct {
	Seen    int  `json:"seen"`
	Counted int  `json:"counted"`
	Drifted int  `json:"drifted"` // senders whose count disagrees with their seen records
	OK      bool `json:"ok"`
}

// Verify checks that every sender's count equals the number of seen items
// attributed to it and that the totals agree. It never writes.
func (s *SQLiteStore) Verify(ctx context.Context) (InvariantReport, error) {
	var r InvariantReport
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return r, storeErr("verify", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM seen_mails),
		       (SELECT COALESCE(SUM(mails_sent), 0) FROM senders)
	`).Scan(&r.Seen, &r.Counted)
	if err != nil {
		return r, storeErr("verify", err)
	}
	d, err := drifts(ctx, tx)
	if err != nil {
		return r, storeErr("verify", err)
	}
	r.Drifted = len(d)
	r.OK = r.Seen == r.Counted && r.Drifted == 0
	return r, nil
}

func queryCounts(ctx context.Context, tx *sql.Tx, query string) (map[string]int, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var sender string
		var n int
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, err
		}
		out[sender] = n
	}
	return out, rows.Err()
}
