package auth

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
)

// OpenBrowser opens url in the user's default browser. Only http and https
// URLs are accepted.
func OpenBrowser(url string) error {
	// Validate URL scheme to prevent command injection
	lower := strings.ToLower(url)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return fmt.Errorf("refusing to open non-HTTP URL: %s", url)
	}

	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux", "freebsd", "openbsd":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	default:
		return fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}

	return exec.Command(cmd, args...).Start()
}

// BrowserPrompter prints the URL to W and tries to open it. Open defaults to
// OpenBrowser.
type BrowserPrompter struct {
	W    io.Writer
	Open func(url string) error
}

func (p BrowserPrompter) PresentURL(ctx context.Context, authURL string) error {
	if err := (WriterPrompter{W: p.W}).PresentURL(ctx, authURL); err != nil {
		return err
	}
	open := p.Open
	if open == nil {
		open = OpenBrowser
	}
	if err := open(authURL); err != nil {
		fmt.Fprintf(p.W, "Could not open a browser (%v); open the URL manually.\n", err)
	}
	return nil
}
