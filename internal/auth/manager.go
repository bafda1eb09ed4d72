package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"mailtally/internal/model"
)

// Options configures a Manager.
type Options struct {
	Config          *oauth2.Config
	TokenPath       string
	Prompter        Prompter
	CallbackTimeout time.Duration
	RefreshSkew     time.Duration
	Logger          *log.Logger
	Now             func() time.Time
}

// Manager owns the OAuth credential for the configured mailbox. It is safe
// for concurrent use; refreshes are serialized.
type Manager struct {
	cfg             *oauth2.Config
	path            string
	prompter        Prompter
	callbackTimeout time.Duration
	refreshSkew     time.Duration
	logger          *log.Logger
	now             func() time.Time

	mu     sync.Mutex
	cred   *model.Credential
	loaded bool
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		cfg:             opts.Config,
		path:            opts.TokenPath,
		prompter:        opts.Prompter,
		callbackTimeout: opts.CallbackTimeout,
		refreshSkew:     opts.RefreshSkew,
		logger:          opts.Logger,
		now:             opts.Now,
	}
	if m.callbackTimeout <= 0 {
		m.callbackTimeout = 2 * time.Minute
	}
	if m.logger == nil {
		m.logger = log.New(io.Discard)
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Acquire returns a credential whose access token outlives the refresh skew,
// refreshing silently or running the interactive flow as needed.
func (m *Manager) Acquire(ctx context.Context) (model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		cred, err := readCredential(m.path)
		if err != nil {
			m.logger.Warn("ignoring unreadable token file", "path", m.path, "err", err)
		}
		m.cred = cred
		m.loaded = true
	}

	if m.cred != nil && m.cred.ValidAt(m.now(), m.refreshSkew) {
		return *m.cred, nil
	}
	if m.cred != nil && m.cred.RefreshToken != "" {
		return m.refreshLocked(ctx)
	}

	tok, err := m.authorize(ctx)
	if err != nil {
		return model.Credential{}, err
	}
	cred := model.CredentialFromToken(tok, m.cfg.Scopes, "")
	if err := m.storeLocked(cred); err != nil {
		return model.Credential{}, err
	}
	m.logger.Info("authorization complete", "expiry", cred.Expiry)
	return cred, nil
}

func (m *Manager) refreshLocked(ctx context.Context) (model.Credential, error) {
	prev := *m.cred
	stale := &oauth2.Token{RefreshToken: prev.RefreshToken}
	tok, err := m.cfg.TokenSource(ctx, stale).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return model.Credential{}, &model.AuthError{Reason: "refresh rejected", Err: err}
		}
		return model.Credential{}, &model.APIError{Kind: model.KindTransient, Op: "refresh", Err: err}
	}
	requested := prev.Scopes
	if len(requested) == 0 {
		requested = m.cfg.Scopes
	}
	cred := model.CredentialFromToken(tok, requested, prev.RefreshToken)
	if err := m.storeLocked(cred); err != nil {
		return model.Credential{}, err
	}
	m.logger.Debug("refreshed access token", "expiry", cred.Expiry)
	return cred, nil
}

func (m *Manager) storeLocked(cred model.Credential) error {
	if err := saveCredential(m.path, cred); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	m.cred = &cred
	m.loaded = true
	return nil
}

// Invalidate marks the in-memory access token expired so the next Acquire
// refreshes it. Used when the API answers 401.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred != nil {
		m.cred.Expiry = m.now().Add(-time.Second)
	}
}

// Stored returns the persisted credential without refreshing it.
func (m *Manager) Stored() (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		if m.cred == nil {
			return nil, nil
		}
		c := *m.cred
		return &c, nil
	}
	return readCredential(m.path)
}

// Revoke deletes the token file and forgets the in-memory credential.
func (m *Manager) Revoke() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = nil
	m.loaded = true
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

// TokenSource adapts the manager for oauth2 HTTP clients and SDKs. Every
// token request goes through Acquire.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerSource{ctx: ctx, m: m}
}

// HTTPClient returns a client that authorizes every request with the
// manager's current token. Unlike oauth2.NewClient it keeps no token cache of
// its own, so Invalidate and RefreshSkew take effect on the next request.
func (m *Manager) HTTPClient(ctx context.Context) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: m.TokenSource(ctx),
			Base:   http.DefaultTransport,
		},
	}
}

type managerSource struct {
	ctx context.Context
	m   *Manager
}

func (s *managerSource) Token() (*oauth2.Token, error) {
	cred, err := s.m.Acquire(s.ctx)
	if err != nil {
		return nil, err
	}
	return cred.OAuth2Token(), nil
}
