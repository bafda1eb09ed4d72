package outlook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/charmbracelet/log"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"
	"golang.org/x/oauth2"

	"mailtally/internal/model"
	"mailtally/internal/rate"
	"mailtally/internal/util"
)

// Graph caps $top for messages at 1000; 500 keeps parity with Gmail.
const maxPageSize = 500

var (
	listSelect     = []string{"id", "conversationId"}
	metadataSelect = []string{"id", "from", "sender", "subject", "receivedDateTime"}
)

// Options mirrors the Gmail client options that apply to Graph.
type Options struct {
	PageSize int32
	Limiter  rate.Limiter
	Logger   *log.Logger
}

// Client is the Microsoft Graph implementation of model.MailClient for the
// signed-in user's mailbox.
type Client struct {
	graph   *msgraphsdk.GraphServiceClient
	opts    Options
	limiter rate.Limiter
	logger  *log.Logger
}

var _ model.MailClient = (*Client)(nil)

// New builds a Graph client whose bearer tokens come from ts.
func New(ts oauth2.TokenSource, scopes []string, opts Options) (*Client, error) {
	graph, err := msgraphsdk.NewGraphServiceClientWithCredentials(&tokenCredential{ts: ts}, scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}
	if opts.PageSize <= 0 || opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}
	c := &Client{graph: graph, opts: opts, limiter: opts.Limiter, logger: opts.Logger}
	if c.limiter == nil {
		c.limiter = rate.Unlimited{}
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard)
	}
	return c, nil
}

// ListPage returns one page of message ids. The cursor is the opaque
// @odata.nextLink of the previous page.
func (c *Client) ListPage(ctx context.Context, cursor string) (model.Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.Page{}, err
	}

	var (
		resp models.MessageCollectionResponseable
		err  error
	)
	if cursor == "" {
		resp, err = c.graph.Me().Messages().Get(ctx, &users.ItemMessagesRequestBuilderGetRequestConfiguration{
			QueryParameters: firstPageQuery(c.opts.PageSize),
		})
	} else {
		resp, err = c.graph.Me().Messages().WithUrl(cursor).Get(ctx, nil)
	}
	if err != nil {
		return model.Page{}, classify("list", err)
	}
	page, err := pageFrom(resp)
	if err != nil {
		return model.Page{}, err
	}
	c.logger.Debug("listed page", "entries", len(page.Entries), "more", page.NextCursor != "")
	return page, nil
}

// firstPageQuery builds the first listing request. Later pages follow
// @odata.nextLink, which already carries $top, $select and $count.
func firstPageQuery(top int32) *users.ItemMessagesRequestBuilderGetQueryParameters {
	count := true
	return &users.ItemMessagesRequestBuilderGetQueryParameters{
		Top:    &top,
		Select: listSelect,
		Count:  &count,
	}
}

func pageFrom(resp models.MessageCollectionResponseable) (model.Page, error) {
	if resp == nil {
		return model.Page{}, malformed("list", "empty response")
	}

	page := model.Page{Entries: make([]model.ListingEntry, 0, len(resp.GetValue()))}
	for _, m := range resp.GetValue() {
		if m == nil || deref(m.GetId()) == "" {
			return model.Page{}, malformed("list", "listing entry without id")
		}
		page.Entries = append(page.Entries, model.ListingEntry{
			ID:       deref(m.GetId()),
			ThreadID: deref(m.GetConversationId()),
		})
	}
	page.NextCursor = deref(resp.GetOdataNextLink())
	if n := resp.GetOdataCount(); n != nil {
		page.Estimate = *n
	}
	return page, nil
}

// GetMetadata fetches sender, subject and received time of one message.
func (c *Client) GetMetadata(ctx context.Context, id string) (model.MessageMetadata, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.MessageMetadata{}, err
	}
	msg, err := c.graph.Me().Messages().ByMessageId(id).Get(ctx, &users.ItemMessagesMessageItemRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesMessageItemRequestBuilderGetQueryParameters{
			Select: metadataSelect,
		},
	})
	if err != nil {
		return model.MessageMetadata{}, classify("get", err)
	}
	if msg == nil {
		return model.MessageMetadata{}, malformed("get", "message %s has no body", id)
	}
	meta := metadataFrom(msg)
	if meta.ID == "" {
		meta.ID = id
	}
	return meta, nil
}

// metadataFrom converts a Graph message. From wins over Sender, which Graph
// fills with the actual submitter when mail is sent on behalf of someone.
func metadataFrom(m models.Messageable) model.MessageMetadata {
	meta := model.MessageMetadata{
		ID:      deref(m.GetId()),
		Subject: deref(m.GetSubject()),
	}
	if t := m.GetReceivedDateTime(); t != nil {
		meta.Date = t.UTC()
	}

	var name, addr string
	for _, r := range []models.Recipientable{m.GetFrom(), m.GetSender()} {
		if r == nil || r.GetEmailAddress() == nil {
			continue
		}
		name = deref(r.GetEmailAddress().GetName())
		addr = deref(r.GetEmailAddress().GetAddress())
		if strings.TrimSpace(addr) != "" {
			break
		}
	}
	switch {
	case addr != "" && name != "" && !strings.EqualFold(name, addr):
		meta.RawFrom = fmt.Sprintf("%s <%s>", name, addr)
	case addr != "":
		meta.RawFrom = addr
	default:
		meta.RawFrom = name
	}
	meta.Sender = util.SenderIdentity(meta.RawFrom)
	return meta
}

// classify maps a Graph failure onto the sync error taxonomy.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		return &model.APIError{Kind: model.KindAuth, Op: op, Err: err}
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return &model.APIError{Kind: apiErr.Kind, Op: op, Status: apiErr.Status, Err: err}
	}
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		status := odataErr.ResponseStatusCode
		return &model.APIError{Kind: kindForStatus(status), Op: op, Status: status, Err: describe(odataErr)}
	}
	// Transport failures reach us without a status code.
	return &model.APIError{Kind: model.KindTransient, Op: op, Err: err}
}

func kindForStatus(status int) model.APIErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return model.KindAuth
	case status == http.StatusTooManyRequests, status >= 500:
		return model.KindTransient
	default:
		return model.KindFatal
	}
}

// describe pulls the Graph error code and message out of the OData body,
// which ODataError.Error() does not include.
func describe(e *odataerrors.ODataError) error {
	if main := e.GetErrorEscaped(); main != nil {
		return fmt.Errorf("%s: %s: %w", deref(main.GetCode()), deref(main.GetMessage()), e)
	}
	return e
}

func malformed(op, format string, args ...any) error {
	return &model.APIError{Kind: model.KindFatal, Op: op, Err: fmt.Errorf(format, args...)}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// tokenCredential lets the Graph SDK pull tokens from the credential manager.
type tokenCredential struct {
	ts oauth2.TokenSource
}

func (c *tokenCredential) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	tok, err := c.ts.Token()
	if err != nil {
		return azcore.AccessToken{}, err
	}
	expires := tok.Expiry
	if expires.IsZero() {
		expires = time.Now().Add(time.Hour)
	}
	return azcore.AccessToken{Token: tok.AccessToken, ExpiresOn: expires}, nil
}
