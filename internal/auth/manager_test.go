package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"mailtally/internal/model"
)

type tokenServer struct {
	*httptest.Server
	exchanges atomic.Int32
	refreshes atomic.Int32
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			ts.exchanges.Add(1)
			if r.Form.Get("code") != "good-code" || r.Form.Get("code_verifier") == "" {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "at-1",
				"refresh_token": "rt-1",
				"token_type":    "Bearer",
				"expires_in":    3600,
				"scope":         "scope-a scope-b",
			})
		case "refresh_token":
			ts.refreshes.Add(1)
			if r.Form.Get("refresh_token") == "revoked" {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "at-refreshed",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		default:
			http.Error(w, "unsupported grant", http.StatusBadRequest)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID: "client",
		Scopes:   []string{"scope-a"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   ts.URL + "/auth",
			TokenURL:  ts.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// browserPrompter plays the browser: it follows the authorization URL's
// redirect_uri with a code and the given state (or the real one).
type browserPrompter struct {
	t          *testing.T
	forceState string
	urls       []string
}

func (p *browserPrompter) PresentURL(_ context.Context, authURL string) error {
	p.urls = append(p.urls, authURL)
	u, err := url.Parse(authURL)
	require.NoError(p.t, err)
	q := u.Query()
	state := q.Get("state")
	if p.forceState != "" {
		state = p.forceState
	}
	resp, err := http.Get(q.Get("redirect_uri") + "?code=good-code&state=" + url.QueryEscape(state))
	require.NoError(p.t, err)
	resp.Body.Close()
	return nil
}

type silentPrompter struct{}

func (silentPrompter) PresentURL(context.Context, string) error { return nil }

// pastePrompter never hits the loopback; it pastes the full redirect URL.
type pastePrompter struct {
	codes chan string
}

func (p *pastePrompter) PresentURL(_ context.Context, authURL string) error {
	u, _ := url.Parse(authURL)
	q := u.Query()
	p.codes <- q.Get("redirect_uri") + "?code=good-code&state=" + q.Get("state")
	return nil
}

func (p *pastePrompter) Codes() <-chan string { return p.codes }

func newTestManager(t *testing.T, ts *tokenServer, prompter Prompter) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token.json")
	m := NewManager(Options{
		Config:          ts.config(),
		TokenPath:       path,
		Prompter:        prompter,
		CallbackTimeout: 5 * time.Second,
		RefreshSkew:     2 * time.Minute,
	})
	return m, path
}

func writeCred(t *testing.T, path string, cred model.Credential) {
	t.Helper()
	require.NoError(t, saveCredential(path, cred))
}

func TestAcquireInteractiveLoopback(t *testing.T) {
	ts := newTokenServer(t)
	p := &browserPrompter{t: t}
	m, path := newTestManager(t, ts, p)

	cred, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-1", cred.AccessToken)
	assert.Equal(t, "rt-1", cred.RefreshToken)
	assert.Equal(t, []string{"scope-a", "scope-b"}, cred.Scopes)
	assert.True(t, cred.Expiry.After(time.Now()))

	require.Len(t, p.urls, 1)
	u, err := url.Parse(p.urls[0])
	require.NoError(t, err)
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
	assert.Equal(t, "offline", u.Query().Get("access_type"))

	onDisk, err := readCredential(path)
	require.NoError(t, err)
	require.NotNil(t, onDisk)
	assert.Equal(t, "at-1", onDisk.AccessToken)

	// Cached: no second exchange or prompt.
	_, err = m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), ts.exchanges.Load())
	assert.Len(t, p.urls, 1)
}

func TestAcquireStateMismatch(t *testing.T) {
	ts := newTokenServer(t)
	m, path := newTestManager(t, ts, &browserPrompter{t: t, forceState: "forged"})

	_, err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAuthFailure)
	assert.Zero(t, ts.exchanges.Load())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAcquireCallbackTimeout(t *testing.T) {
	ts := newTokenServer(t)
	m, _ := newTestManager(t, ts, silentPrompter{})
	m.callbackTimeout = 50 * time.Millisecond

	_, err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAuthFailure)
}

func TestAcquireAbandoned(t *testing.T) {
	ts := newTokenServer(t)
	m, _ := newTestManager(t, ts, silentPrompter{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAuthFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireManualPaste(t *testing.T) {
	ts := newTokenServer(t)
	m, _ := newTestManager(t, ts, &pastePrompter{codes: make(chan string, 1)})

	cred, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-1", cred.AccessToken)
}

func TestAcquireWithoutPrompter(t *testing.T) {
	ts := newTokenServer(t)
	m, _ := newTestManager(t, ts, nil)

	_, err := m.Acquire(context.Background())
	assert.ErrorIs(t, err, model.ErrAuthFailure)
}

func TestAcquireRefreshesAndPersists(t *testing.T) {
	ts := newTokenServer(t)
	m, path := newTestManager(t, ts, nil)
	writeCred(t, path, model.Credential{
		AccessToken:  "old",
		RefreshToken: "rt-1",
		Expiry:       time.Now().Add(time.Minute), // inside the refresh skew
		Scopes:       []string{"scope-a"},
	})

	cred, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-refreshed", cred.AccessToken)
	assert.Equal(t, "rt-1", cred.RefreshToken, "refresh token kept when server omits it")
	assert.Equal(t, []string{"scope-a"}, cred.Scopes)
	assert.Equal(t, int32(1), ts.refreshes.Load())

	onDisk, err := readCredential(path)
	require.NoError(t, err)
	assert.Equal(t, "at-refreshed", onDisk.AccessToken)
	assert.Equal(t, "rt-1", onDisk.RefreshToken)
}

func TestAcquireRefreshRejected(t *testing.T) {
	ts := newTokenServer(t)
	m, path := newTestManager(t, ts, nil)
	writeCred(t, path, model.Credential{AccessToken: "old", RefreshToken: "revoked", Expiry: time.Now().Add(-time.Hour)})

	_, err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAuthFailure)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "token file is left for the operator")
}

func TestInvalidateForcesRefresh(t *testing.T) {
	ts := newTokenServer(t)
	m, path := newTestManager(t, ts, nil)
	writeCred(t, path, model.Credential{AccessToken: "old", RefreshToken: "rt-1", Expiry: time.Now().Add(time.Hour)})

	cred, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old", cred.AccessToken)

	m.Invalidate()
	cred, err = m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-refreshed", cred.AccessToken)
}

func TestTokenSourceAndRevoke(t *testing.T) {
	ts := newTokenServer(t)
	m, path := newTestManager(t, ts, nil)
	writeCred(t, path, model.Credential{AccessToken: "cached", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)})

	tok, err := m.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	assert.Equal(t, "cached", tok.AccessToken)

	stored, err := m.Stored()
	require.NoError(t, err)
	require.NotNil(t, stored)

	require.NoError(t, m.Revoke())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	require.NoError(t, m.Revoke())

	stored, err = m.Stored()
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestParsePasted(t *testing.T) {
	tests := []struct {
		in        string
		code      string
		state     string
		expectErr bool
	}{
		{in: "  4/abc  ", code: "4/abc"},
		{in: "http://127.0.0.1:1234/?code=xyz&state=s1", code: "xyz", state: "s1"},
		{in: "http://127.0.0.1:1234/?state=s1", expectErr: true},
		{in: "http://127.0.0.1:1234/?error=access_denied", expectErr: true},
		{in: "", expectErr: true},
	}
	for _, tt := range tests {
		code, state, err := parsePasted(tt.in)
		if tt.expectErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.code, code)
		assert.Equal(t, tt.state, state)
	}
}
