package gmail

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"mailtally/internal/model"
	"mailtally/internal/util"
)

var metadataHeaders = []string{"From", "Return-Path", "Subject", "Date"}

// ListPage returns one page of message ids. An empty cursor starts from the
// top of the listing.
func (c *Client) ListPage(ctx context.Context, cursor string) (model.Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.Page{}, err
	}

	call := c.svc.Users.Messages.List(user).
		IncludeSpamTrash(c.opts.IncludeSpamTrash).
		MaxResults(c.opts.PageSize)
	if c.opts.Query != "" {
		call = call.Q(c.opts.Query)
	}
	if len(c.opts.Labels) > 0 {
		call = call.LabelIds(c.opts.Labels...)
	}
	if cursor != "" {
		call = call.PageToken(cursor)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return model.Page{}, classify("list", err)
	}
	if resp == nil {
		return model.Page{}, malformed("list", "empty response")
	}

	page := model.Page{
		Entries:    make([]model.ListingEntry, 0, len(resp.Messages)),
		NextCursor: resp.NextPageToken,
		Estimate:   int64(resp.ResultSizeEstimate),
	}
	for _, m := range resp.Messages {
		if m == nil || m.Id == "" {
			return model.Page{}, malformed("list", "listing entry without id")
		}
		page.Entries = append(page.Entries, model.ListingEntry{ID: m.Id, ThreadID: m.ThreadId})
	}
	c.logger.Debug("listed page", "entries", len(page.Entries), "more", page.NextCursor != "")
	return page, nil
}

// GetMetadata fetches the headers of one message and resolves its sender.
func (c *Client) GetMetadata(ctx context.Context, id string) (model.MessageMetadata, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.MessageMetadata{}, err
	}

	msg, err := c.svc.Users.Messages.Get(user, id).
		Format("metadata").
		MetadataHeaders(metadataHeaders...).
		Context(ctx).
		Do()
	if err != nil {
		return model.MessageMetadata{}, classify("get", err)
	}
	if msg == nil || msg.Payload == nil {
		return model.MessageMetadata{}, malformed("get", "message %s has no payload", id)
	}

	headers := make(map[string]string, len(msg.Payload.Headers))
	for _, h := range msg.Payload.Headers {
		if h == nil {
			continue
		}
		name := strings.ToLower(h.Name)
		if _, seen := headers[name]; !seen {
			headers[name] = h.Value
		}
	}

	meta := model.MessageMetadata{
		ID:      msg.Id,
		RawFrom: headers["from"],
		Subject: headers["subject"],
		Date:    parseDate(headers["date"]),
	}
	if meta.ID == "" {
		meta.ID = id
	}
	meta.Sender = util.SenderIdentity(util.SenderHeader(headers))
	if meta.Date.IsZero() && msg.InternalDate > 0 {
		meta.Date = time.UnixMilli(msg.InternalDate).UTC()
	}
	return meta, nil
}

// parseDate understands the Date header layouts Gmail hands back. Zero time
// when nothing matches.
func parseDate(h string) time.Time {
	h = strings.TrimSpace(h)
	if h == "" {
		return time.Time{}
	}
	if t, err := mail.ParseDate(h); err == nil {
		return t.UTC()
	}
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
		time.RFC850,
		time.RFC3339,
		"Mon, 2 Jan 2006 15:04:05 -0700",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, h); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
