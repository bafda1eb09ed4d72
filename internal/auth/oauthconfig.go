package auth

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	gmailv1 "google.golang.org/api/gmail/v1"
)

// Scopes requested per provider. Read-only access is all the tally needs.
var (
	GmailScopes   = []string{gmailv1.GmailReadonlyScope}
	OutlookScopes = []string{"offline_access", "https://graph.microsoft.com/Mail.Read"}
)

// GoogleConfig builds the Gmail OAuth client config. The client_secret.json
// downloaded from the Cloud Console wins; otherwise clientID/clientSecret are
// used (GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET).
func GoogleConfig(secretsPath, clientID, clientSecret string) (*oauth2.Config, error) {
	b, err := os.ReadFile(secretsPath)
	switch {
	case err == nil:
		cfg, err := google.ConfigFromJSON(b, GmailScopes...)
		if err != nil {
			return nil, fmt.Errorf("parse oauth config: %w", err)
		}
		return cfg, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read credentials at %s: %w", secretsPath, err)
	}

	if clientID == "" {
		return nil, fmt.Errorf("no OAuth client: create %s or set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET", secretsPath)
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       GmailScopes,
		Endpoint:     google.Endpoint,
	}, nil
}

// OutlookConfig builds the Microsoft identity platform config for a public
// client (no secret, PKCE only).
func OutlookConfig(clientID, tenant string) (*oauth2.Config, error) {
	if clientID == "" {
		return nil, errors.New("no OAuth client: set MS_CLIENT_ID or outlook.client_id")
	}
	if tenant == "" {
		tenant = "common"
	}
	return &oauth2.Config{
		ClientID: clientID,
		Scopes:   OutlookScopes,
		Endpoint: microsoft.AzureADEndpoint(tenant),
	}, nil
}
