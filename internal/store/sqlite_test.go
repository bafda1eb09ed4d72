package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtally/internal/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("postgres", filepath.Join(t.TempDir(), "x.db"))
	require.Error(t, err)
}

func TestMarkSeenIsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	has, err := s.Has(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.MarkSeen(ctx, "m1", "a@b.com"))
	require.NoError(t, s.MarkSeen(ctx, "m1", "a@b.com"))

	has, err = s.Has(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, has)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIncrementAndSnapshotOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, sender := range []string{"b@x.com", "a@x.com", "b@x.com", "c@x.com", "c@x.com", "c@x.com"} {
		require.NoError(t, s.Increment(ctx, sender))
	}

	asc, err := s.Snapshot(ctx, SnapshotOptions{})
	require.NoError(t, err)
	assert.Equal(t, []model.SenderCount{
		{Sender: "a@x.com", Count: 1},
		{Sender: "b@x.com", Count: 2},
		{Sender: "c@x.com", Count: 3},
	}, asc)

	desc, err := s.Snapshot(ctx, SnapshotOptions{Desc: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []model.SenderCount{
		{Sender: "c@x.com", Count: 3},
		{Sender: "b@x.com", Count: 2},
	}, desc)
}

func TestCommitCountsOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	isNew, err := s.Commit(ctx, "m1", "a@x.com")
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = s.Commit(ctx, "m1", "a@x.com")
	require.NoError(t, err)
	assert.False(t, isNew, "second commit of the same id must not count")

	_, err = s.Commit(ctx, "m2", "a@x.com")
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx, SnapshotOptions{})
	require.NoError(t, err)
	assert.Equal(t, []model.SenderCount{{Sender: "a@x.com", Count: 2}}, snap)

	inv, err := s.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, InvariantReport{Seen: 2, Counted: 2, OK: true}, inv)
}

func TestCommitRollsBackOnCanceledContext(t *testing.T) {
	s := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Commit(ctx, "m1", "a@x.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrStore)

	count, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReconcileRepairsDrift(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Simulate the crash window: seen without count, and a count without seen.
	require.NoError(t, s.MarkSeen(ctx, "m1", "a@x.com"))
	require.NoError(t, s.MarkSeen(ctx, "m2", "a@x.com"))
	require.NoError(t, s.Increment(ctx, "a@x.com"))
	require.NoError(t, s.Increment(ctx, "ghost@x.com"))

	// The totals agree (2 seen, 2 counted); only the per-sender view shows drift.
	inv, err := s.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inv.Seen)
	assert.Equal(t, 2, inv.Counted)
	assert.Equal(t, 2, inv.Drifted)
	assert.False(t, inv.OK)

	dry, err := s.Reconcile(ctx, true)
	require.NoError(t, err)
	assert.False(t, dry.Applied)
	when, err := s.LastReconciled(ctx)
	require.NoError(t, err)
	assert.True(t, when.IsZero())
	assert.Equal(t, []Drift{
		{Sender: "a@x.com", Stored: 1, Expected: 2},
		{Sender: "ghost@x.com", Stored: 1, Expected: 0},
	}, dry.Drifts)

	rep, err := s.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.True(t, rep.Applied)

	snap, err := s.Snapshot(ctx, SnapshotOptions{})
	require.NoError(t, err)
	assert.Equal(t, []model.SenderCount{{Sender: "a@x.com", Count: 2}}, snap)

	inv, err = s.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, inv.OK)
	assert.Zero(t, inv.Drifted)

	when, err = s.LastReconciled(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), when, time.Minute)

	again, err := s.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, again.Drifts)
	assert.False(t, again.Applied)
}

func TestRunsRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	last, err := s.LastRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	started := time.Unix(1700000000, 0)
	run := model.RunSummary{RunID: "r1", Provider: "gmail", StartedAt: started}
	require.NoError(t, s.StartRun(ctx, run))

	run.Status = model.StatusIncomplete
	run.FinishedAt = started.Add(time.Minute)
	run.Pages, run.Listed, run.New, run.Skipped, run.Errors = 2, 10, 4, 6, 1
	run.LastError = "list: transient api error"
	require.NoError(t, s.FinishRun(ctx, run))

	require.NoError(t, s.StartRun(ctx, model.RunSummary{RunID: "r2", Provider: "gmail", StartedAt: started.Add(time.Hour)}))

	runs, err := s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].RunID)
	assert.Equal(t, model.StatusRunning, runs[0].Status)
	assert.Equal(t, run, runs[1])
}

func TestMetadata(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	v, err := s.GetMetadata(ctx, "last_reconciled_at")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "" {
		t.Fatalf("expected empty, got %q", v)
	}

	s.SetMetadata(ctx, "last_reconciled_at", "12345")
	s.SetMetadata(ctx, "last_reconciled_at", "99999")
	v, _ = s.GetMetadata(ctx, "last_reconciled_at")
	if v != "99999" {
		t.Fatalf("expected 99999, got %q", v)
	}
}
