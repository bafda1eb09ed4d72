package gmail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"mailtally/internal/model"
)

// Reasons Gmail reports on 403 when the caller is throttled rather than
// forbidden.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

// classify maps a Gmail call failure onto the sync error taxonomy.
// Context cancellation passes through unclassified.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	// Failures from the token source surface through the HTTP transport.
	var authErr *model.AuthError
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &authErr) || errors.As(err, &retrieveErr) {
		return &model.APIError{Kind: model.KindAuth, Op: op, Err: err}
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return &model.APIError{Kind: apiErr.Kind, Op: op, Status: apiErr.Status, Err: err}
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &model.APIError{Kind: kindForStatus(gErr), Op: op, Status: gErr.Code, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &model.APIError{Kind: model.KindTransient, Op: op, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &model.APIError{Kind: model.KindTransient, Op: op, Err: err}
	}
	return &model.APIError{Kind: model.KindFatal, Op: op, Err: err}
}

func kindForStatus(e *googleapi.Error) model.APIErrorKind {
	switch {
	case e.Code == http.StatusUnauthorized:
		return model.KindAuth
	case e.Code == http.StatusTooManyRequests, e.Code >= 500:
		return model.KindTransient
	case e.Code == http.StatusForbidden:
		for _, item := range e.Errors {
			if rateLimitReasons[item.Reason] {
				return model.KindTransient
			}
		}
		return model.KindFatal
	default:
		return model.KindFatal
	}
}

func malformed(op, format string, args ...any) error {
	return &model.APIError{Kind: model.KindFatal, Op: op, Err: fmt.Errorf(format, args...)}
}
