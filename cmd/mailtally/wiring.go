package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"

	"mailtally/internal/auth"
	"mailtally/internal/config"
	"mailtally/internal/events"
	"mailtally/internal/gmail"
	"mailtally/internal/model"
	"mailtally/internal/outlook"
	"mailtally/internal/rate"
	"mailtally/internal/store"
	"mailtally/internal/syncer"
)

func (a *app) openStore() (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.Open(a.cfg.DBDriver, a.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("store opened", "driver", a.cfg.DBDriver, "path", a.cfg.DBPath)
	return st, nil
}

func (a *app) oauthConfig() (*oauth2.Config, error) {
	switch a.cfg.Provider {
	case config.ProviderOutlook:
		return auth.OutlookConfig(a.cfg.Outlook.ClientID, a.cfg.Outlook.Tenant)
	default:
		return auth.GoogleConfig(a.cfg.ClientSecretsPath, a.cfg.Google.ClientID, a.cfg.Google.ClientSecret)
	}
}

func (a *app) credentials(prompter auth.Prompter) (*auth.Manager, error) {
	oc, err := a.oauthConfig()
	if err != nil {
		return nil, err
	}
	return auth.NewManager(auth.Options{
		Config:          oc,
		TokenPath:       a.cfg.TokenPath,
		Prompter:        prompter,
		CallbackTimeout: a.cfg.Auth.CallbackTimeout,
		RefreshSkew:     a.cfg.Auth.RefreshSkew,
		Logger:          a.logger.WithPrefix("auth"),
	}), nil
}

// storedCredentials reads and deletes the token file only; it needs no OAuth
// client configuration.
func (a *app) storedCredentials() *auth.Manager {
	return auth.NewManager(auth.Options{TokenPath: a.cfg.TokenPath, Logger: a.logger.WithPrefix("auth")})
}

func (a *app) mailClient(ctx context.Context, mgr *auth.Manager, limiter rate.Limiter) (model.MailClient, error) {
	logger := a.logger.WithPrefix(a.cfg.Provider)
	switch a.cfg.Provider {
	case config.ProviderOutlook:
		return outlook.New(mgr.TokenSource(ctx), auth.OutlookScopes, outlook.Options{
			PageSize: int32(a.cfg.Sync.PageSize),
			Limiter:  limiter,
			Logger:   logger,
		})
	default:
		return gmail.New(ctx, mgr.HTTPClient(ctx), gmail.Options{
			PageSize:         a.cfg.Sync.PageSize,
			Query:            a.cfg.Sync.Query,
			Labels:           a.cfg.Sync.Labels,
			IncludeSpamTrash: a.cfg.Sync.IncludeSpamTrash,
			Limiter:          limiter,
			Logger:           logger,
		})
	}
}

// publisher connects to NATS when configured. A broker that cannot be
// reached disables run events for this invocation rather than the sync.
func (a *app) publisher(ctx context.Context) *events.Publisher {
	if a.cfg.NATS.URL == "" {
		return nil
	}
	pub, err := events.NewPublisher(a.cfg.NATS.URL, a.cfg.NATS.Stream, a.cfg.NATS.Subject)
	if err != nil {
		a.logger.Warn("run events disabled", "err", err)
		return nil
	}
	if err := pub.EnsureStream(ctx); err != nil {
		a.logger.Warn("run events disabled", "err", err)
		pub.Close()
		return nil
	}
	return pub
}

// syncService wires the orchestrator. The returned cleanup stops the rate
// limiter and closes the NATS connection.
func (a *app) syncService(ctx context.Context, st *store.SQLiteStore, prompter auth.Prompter) (*syncer.Service, func(), error) {
	mgr, err := a.credentials(prompter)
	if err != nil {
		return nil, nil, err
	}
	limiter := rate.NewTokenBucket(a.cfg.Sync.RequestsPerSec)
	client, err := a.mailClient(ctx, mgr, limiter)
	if err != nil {
		limiter.Stop()
		return nil, nil, err
	}

	deps := syncer.Deps{
		Client: client,
		Store:  st,
		Creds:  mgr,
		Logger: a.logger.WithPrefix("sync"),
	}
	pub := a.publisher(ctx)
	if pub != nil {
		deps.Publisher = pub
	}
	svc := syncer.New(syncer.Config{
		Provider:   a.cfg.Provider,
		MaxRetries: a.cfg.Sync.MaxRetries,
		Backoff: rate.Backoff{
			Base:   a.cfg.Sync.BaseBackoff,
			Max:    a.cfg.Sync.MaxBackoff,
			Jitter: 0.2,
		},
		Workers: a.cfg.Sync.Workers,
	}, deps)

	cleanup := func() {
		limiter.Stop()
		if pub != nil {
			pub.Close()
		}
	}
	return svc, cleanup, nil
}
