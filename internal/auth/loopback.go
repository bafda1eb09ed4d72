package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"mailtally/internal/model"
)

type callbackResult struct {
	code string
	err  error
}

// authorize runs the authorization code flow against a loopback listener
// that lives only for the duration of this call.
func (m *Manager) authorize(ctx context.Context) (*oauth2.Token, error) {
	if m.prompter == nil {
		return nil, &model.AuthError{Reason: "interactive authorization required but no prompter is configured"}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, &model.AuthError{Reason: "listen on loopback", Err: err}
	}
	port := ln.Addr().(*net.TCPAddr).Port

	cfg := *m.cfg
	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/", port)

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	resCh := make(chan callbackResult, 1)
	deliver := func(r callbackResult) {
		select {
		case resCh <- r:
		default:
		}
	}

	mux := http.NewServeMux()
	srv := &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			http.Error(w, "Authorization was denied: "+e, http.StatusBadRequest)
			deliver(callbackResult{err: &model.AuthError{Reason: "authorization denied: " + e}})
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Missing 'code' parameter", http.StatusBadRequest)
			return
		}
		if q.Get("state") != state {
			http.Error(w, "State mismatch", http.StatusBadRequest)
			deliver(callbackResult{err: &model.AuthError{Reason: "state mismatch on callback"}})
			return
		}
		fmt.Fprintln(w, "Authentication complete. You can close this window.")
		deliver(callbackResult{code: code})
	})
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)
	m.logger.Info("waiting for authorization", "redirect", cfg.RedirectURL)
	if err := m.prompter.PresentURL(ctx, authURL); err != nil {
		return nil, &model.AuthError{Reason: "present authorization URL", Err: err}
	}

	var pasted <-chan string
	if cs, ok := m.prompter.(CodeSource); ok {
		pasted = cs.Codes()
	}

	timer := time.NewTimer(m.callbackTimeout)
	defer timer.Stop()

	var code string
	select {
	case <-ctx.Done():
		return nil, &model.AuthError{Reason: "authorization abandoned", Err: ctx.Err()}
	case <-timer.C:
		return nil, &model.AuthError{Reason: fmt.Sprintf("no authorization callback within %s", m.callbackTimeout)}
	case r := <-resCh:
		if r.err != nil {
			return nil, r.err
		}
		code = r.code
	case input := <-pasted:
		c, st, err := parsePasted(input)
		if err != nil {
			return nil, &model.AuthError{Reason: "manual code", Err: err}
		}
		if st != "" && st != state {
			return nil, &model.AuthError{Reason: "state mismatch on pasted URL"}
		}
		code = c
	}

	tok, err := cfg.Exchange(ctx, strings.TrimSpace(code), oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, &model.AuthError{Reason: "token exchange", Err: err}
	}
	return tok, nil
}
