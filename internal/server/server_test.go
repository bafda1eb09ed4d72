package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtally/internal/model"
	"mailtally/internal/store"
)

func seededStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "report.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	for i, sender := range []string{"a@x.com", "b@x.com", "b@x.com", "c@x.com", "c@x.com", "c@x.com"} {
		_, err := st.Commit(ctx, string(rune('a'+i)), sender)
		require.NoError(t, err)
	}
	started := time.Unix(1700000000, 0)
	require.NoError(t, st.StartRun(ctx, model.RunSummary{RunID: "r1", Provider: "gmail", StartedAt: started}))
	require.NoError(t, st.FinishRun(ctx, model.RunSummary{
		RunID: "r1", Provider: "gmail", Status: model.StatusDone,
		StartedAt: started, FinishedAt: started.Add(time.Minute), New: 6,
	}))
	return st
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestSendersEndpoint(t *testing.T) {
	r := NewRouter(seededStore(t), nil)

	w := get(t, r, "/senders?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Senders []model.SenderCount `json:"senders"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []model.SenderCount{{Sender: "c@x.com", Count: 3}, {Sender: "b@x.com", Count: 2}}, body.Senders)

	w = get(t, r, "/senders?order=asc")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Senders, 3)
	assert.Equal(t, "a@x.com", body.Senders[0].Sender)

	assert.Equal(t, http.StatusBadRequest, get(t, r, "/senders?order=sideways").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, r, "/senders?limit=-1").Code)
}

func TestStatusAndRuns(t *testing.T) {
	r := NewRouter(seededStore(t), nil)

	w := get(t, r, "/status")
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		LastRun    *model.RunSummary `json:"last_run"`
		Seen       int               `json:"seen"`
		Consistent bool              `json:"consistent"`
		Reconciled *time.Time        `json:"last_reconciled_at"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.NotNil(t, status.LastRun)
	assert.Equal(t, "r1", status.LastRun.RunID)
	assert.Equal(t, 6, status.Seen)
	assert.True(t, status.Consistent)
	assert.Nil(t, status.Reconciled)

	w = get(t, r, "/runs")
	require.Equal(t, http.StatusOK, w.Code)
	var runs struct {
		Runs []model.RunSummary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, model.StatusDone, runs.Runs[0].Status)

	assert.Equal(t, http.StatusOK, get(t, r, "/healthz").Code)
}

func TestStatusReportsDriftAndReconcile(t *testing.T) {
	st := seededStore(t)
	ctx := context.Background()
	// Over-count a@x.com by one.
	require.NoError(t, st.Increment(ctx, "a@x.com"))
	_, err := st.Reconcile(ctx, true)
	require.NoError(t, err)
	r := NewRouter(st, nil)

	var status struct {
		Drifted    int        `json:"drifted"`
		Consistent bool       `json:"consistent"`
		Reconciled *time.Time `json:"last_reconciled_at"`
	}
	w := get(t, r, "/status")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Drifted)
	assert.False(t, status.Consistent)
	assert.Nil(t, status.Reconciled)

	_, err = st.Reconcile(ctx, false)
	require.NoError(t, err)
	w = get(t, r, "/status")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Consistent)
	require.NotNil(t, status.Reconciled)
}
