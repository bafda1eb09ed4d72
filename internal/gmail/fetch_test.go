package gmail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"mailtally/internal/model"
)

type header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func apiError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": reason,
			"errors":  []map[string]string{{"reason": reason, "message": reason}},
		},
	})
}

func message(id string, headers ...header) map[string]any {
	return map[string]any{"id": id, "payload": map[string]any{"headers": headers}}
}

func fakeGmail(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("pageToken") {
		case "":
			assert.Equal(t, "100", q.Get("maxResults"))
			assert.Equal(t, "in:inbox", q.Get("q"))
			assert.Equal(t, []string{"INBOX"}, q["labelIds"])
			writeJSON(w, 200, map[string]any{
				"messages":           []map[string]string{{"id": "m1", "threadId": "t1"}, {"id": "m2", "threadId": "t2"}},
				"nextPageToken":      "p2",
				"resultSizeEstimate": 3,
			})
		case "p2":
			writeJSON(w, 200, map[string]any{
				"messages":           []map[string]string{{"id": "m3", "threadId": "t3"}},
				"resultSizeEstimate": 3,
			})
		default:
			apiError(w, 400, "invalidArgument")
		}
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages/")
		switch id {
		case "m1":
			assert.Equal(t, "metadata", r.URL.Query().Get("format"))
			writeJSON(w, 200, message("m1",
				header{"FROM", "Alice <Alice+news@Example.com>"},
				header{"Subject", "Hi"},
				header{"Date", "Mon, 02 Jan 2006 15:04:05 -0700"},
			))
		case "m2":
			writeJSON(w, 200, message("m2", header{"Return-Path", "<bounce@lists.example.org>"}))
		case "m3":
			writeJSON(w, 200, message("m3"))
		case "nopayload":
			writeJSON(w, 200, map[string]any{"id": "nopayload"})
		case "limited":
			apiError(w, 403, "rateLimitExceeded")
		case "forbidden":
			apiError(w, 403, "forbidden")
		case "throttled":
			apiError(w, 429, "rateLimitExceeded")
		case "boom":
			apiError(w, 503, "backendError")
		case "unauth":
			apiError(w, 401, "authError")
		default:
			apiError(w, 404, "notFound")
		}
	})
	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"emailAddress": "me@example.com"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(context.Background(), srv.Client(), Options{
		PageSize: 100,
		Query:    "in:inbox",
		Labels:   []string{"INBOX"},
	}, option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return c
}

func TestListPageFollowsCursor(t *testing.T) {
	c := newTestClient(t, fakeGmail(t))
	ctx := context.Background()

	first, err := c.ListPage(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []model.ListingEntry{{ID: "m1", ThreadID: "t1"}, {ID: "m2", ThreadID: "t2"}}, first.Entries)
	assert.Equal(t, "p2", first.NextCursor)
	assert.Equal(t, int64(3), first.Estimate)

	second, err := c.ListPage(ctx, first.NextCursor)
	require.NoError(t, err)
	require.Len(t, second.Entries, 1)
	assert.Empty(t, second.NextCursor)
}

func TestGetMetadataResolvesSender(t *testing.T) {
	c := newTestClient(t, fakeGmail(t))
	ctx := context.Background()

	m1, err := c.GetMetadata(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", m1.Sender)
	assert.Equal(t, "Alice <Alice+news@Example.com>", m1.RawFrom)
	assert.Equal(t, "Hi", m1.Subject)
	assert.Equal(t, time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC), m1.Date)

	m2, err := c.GetMetadata(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, "bounce@lists.example.org", m2.Sender)

	m3, err := c.GetMetadata(ctx, "m3")
	require.NoError(t, err)
	assert.Equal(t, model.UnknownSender, m3.Sender)
}

func TestErrorClassification(t *testing.T) {
	c := newTestClient(t, fakeGmail(t))
	ctx := context.Background()

	tests := []struct {
		id     string
		target error
		status int
	}{
		{"limited", model.ErrTransientAPI, 403},
		{"throttled", model.ErrTransientAPI, 429},
		{"boom", model.ErrTransientAPI, 503},
		{"unauth", model.ErrAuthFailure, 401},
		{"forbidden", model.ErrFatalAPI, 403},
		{"missing", model.ErrFatalAPI, 404},
		{"nopayload", model.ErrFatalAPI, 0},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := c.GetMetadata(ctx, tt.id)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			var apiErr *model.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, "get", apiErr.Op)
		})
	}
}

func TestListPageCanceled(t *testing.T) {
	c := newTestClient(t, fakeGmail(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListPage(ctx, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, model.ErrTransientAPI)
}

func TestAccount(t *testing.T) {
	c := newTestClient(t, fakeGmail(t))
	addr, err := c.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", addr)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	for _, in := range []string{
		"Tue, 02 Jan 2024 15:04:05 +0000",
		"Tue, 2 Jan 2024 15:04:05 +0000 (UTC)",
		"2024-01-02T15:04:05Z",
	} {
		assert.Equal(t, want, parseDate(in), in)
	}
	assert.True(t, parseDate("yesterday").IsZero())
	assert.True(t, parseDate("").IsZero())
}
