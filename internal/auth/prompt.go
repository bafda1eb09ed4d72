package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Prompter shows the authorization URL to the operator.
type Prompter interface {
	PresentURL(ctx context.Context, authURL string) error
}

// CodeSource is implemented by prompters that can also accept a manually
// pasted authorization code or full redirect URL.
type CodeSource interface {
	Codes() <-chan string
}

// WriterPrompter prints the URL to w, typically stderr.
type WriterPrompter struct {
	W io.Writer
}

func (p WriterPrompter) PresentURL(_ context.Context, authURL string) error {
	fmt.Fprintln(p.W, "Open this URL in your browser to authorize mailtally:")
	fmt.Fprintln(p.W, authURL)
	fmt.Fprintln(p.W, "Waiting for the redirect…")
	return nil
}

// parsePasted accepts either a bare code or a full redirect URL and returns
// the code and, when present, the state parameter.
func parsePasted(input string) (code, state string, err error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", "", errors.New("empty authorization code")
	}
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return input, "", nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", "", fmt.Errorf("parse redirect URL: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", "", fmt.Errorf("authorization denied: %s", e)
	}
	code = q.Get("code")
	if code == "" {
		return "", "", errors.New("no 'code' parameter found in pasted URL")
	}
	return code, q.Get("state"), nil
}
