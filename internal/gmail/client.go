package gmail

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"mailtally/internal/model"
	"mailtally/internal/rate"
)

const user = "me"

// Options controls what the listing returns and how fast calls go out.
type Options struct {
	PageSize         int64
	Query            string
	Labels           []string
	IncludeSpamTrash bool
	Limiter          rate.Limiter
	Logger           *log.Logger
}

// Client is the Gmail implementation of model.MailClient.
type Client struct {
	svc     *gmailv1.Service
	opts    Options
	limiter rate.Limiter
	logger  *log.Logger
}

var _ model.MailClient = (*Client)(nil)

// New builds a Gmail client on an authorized HTTP client, typically
// oauth2.NewClient over the credential manager's token source. Extra client
// options (endpoint overrides) are applied last.
func New(ctx context.Context, httpClient *http.Client, opts Options, extra ...option.ClientOption) (*Client, error) {
	clientOpts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, extra...)
	svc, err := gmailv1.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	if opts.PageSize <= 0 || opts.PageSize > 500 {
		opts.PageSize = 500
	}
	c := &Client{svc: svc, opts: opts, limiter: opts.Limiter, logger: opts.Logger}
	if c.limiter == nil {
		c.limiter = rate.Unlimited{}
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard)
	}
	return c, nil
}

// Account returns the mailbox address the credential belongs to.
func (c *Client) Account(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	profile, err := c.svc.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return "", classify("profile", err)
	}
	return profile.EmailAddress, nil
}
