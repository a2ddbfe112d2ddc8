package oauth

import (
	"fmt"
	"net/url"

	"github.com/pkg/browser"
)

// BrowserOpener opens a URL in the user's browser.
type BrowserOpener interface {
	Open(rawURL string) error
}

// BrowserOpenerFunc adapts a function to BrowserOpener.
type BrowserOpenerFunc func(rawURL string) error

// Open implements BrowserOpener.
func (f BrowserOpenerFunc) Open(rawURL string) error {
	return f(rawURL)
}

// browserLauncher is swapped out in tests so no real browser is started.
var browserLauncher = browser.OpenURL

// SystemBrowser opens URLs with the platform's default browser.
type SystemBrowser struct{}

// Open implements BrowserOpener. Only http and https URLs are opened.
func (SystemBrowser) Open(rawURL string) error {
	return OpenBrowser(rawURL)
}

// OpenBrowser opens the specified URL in the default web browser.
// The browser is started in the background; this does not wait for it.
func OpenBrowser(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("refusing to open URL with scheme %q", u.Scheme)
	}

	if err := browserLauncher(u.String()); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}

	return nil
}
