package oauth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"mcpauth/pkg/logging"
	pkgoauth "mcpauth/pkg/oauth"
)

// AuthorizationRequest describes one interactive authorization attempt.
type AuthorizationRequest struct {
	// AuthorizationEndpoint is taken from the discovered server metadata.
	AuthorizationEndpoint string

	// ClientID is the registered or configured client identifier.
	ClientID string

	// Port is the callback port. It must match the redirect URI the client
	// was registered with.
	Port int

	Scopes   []string
	Resource string
}

// AuthorizationResult is what the token exchange needs after a callback.
type AuthorizationResult struct {
	Code        string
	Verifier    string
	RedirectURI string
}

// URLNotifier is told about the authorization URL before the browser opens.
type URLNotifier func(authURL string)

// AuthorizationFlow runs the browser half of the authorization code grant
// with PKCE: it starts the callback server, sends the user to the
// authorization endpoint and waits for the redirect.
type AuthorizationFlow struct {
	browser BrowserOpener
	notify  URLNotifier
	timeout time.Duration
}

// FlowOption configures an AuthorizationFlow.
type FlowOption func(*AuthorizationFlow)

// WithBrowserOpener replaces the system browser.
func WithBrowserOpener(opener BrowserOpener) FlowOption {
	return func(f *AuthorizationFlow) {
		if opener != nil {
			f.browser = opener
		}
	}
}

// WithURLNotifier registers a function that receives the authorization URL.
func WithURLNotifier(notify URLNotifier) FlowOption {
	return func(f *AuthorizationFlow) {
		f.notify = notify
	}
}

// WithFlowTimeout overrides CallbackTimeout for the flow.
func WithFlowTimeout(timeout time.Duration) FlowOption {
	return func(f *AuthorizationFlow) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

// NewAuthorizationFlow creates a flow that opens the system browser by default.
func NewAuthorizationFlow(opts ...FlowOption) *AuthorizationFlow {
	f := &AuthorizationFlow{
		browser: SystemBrowser{},
		timeout: CallbackTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run performs the interactive part of the flow and returns the
// authorization code together with the PKCE verifier it was issued against.
// The callback server is always stopped before Run returns.
func (f *AuthorizationFlow) Run(ctx context.Context, req AuthorizationRequest) (*AuthorizationResult, error) {
	pkce := pkgoauth.GeneratePKCE()

	state, err := pkgoauth.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	callbackServer := NewCallbackServer(req.Port, WithCallbackTimeout(f.timeout))
	redirectURI, err := callbackServer.Start(ctx)
	if err != nil {
		return nil, err
	}
	defer callbackServer.Close()

	authURL, err := pkgoauth.BuildAuthorizationURL(req.AuthorizationEndpoint, pkgoauth.AuthorizationParams{
		ClientID:    req.ClientID,
		RedirectURI: redirectURI,
		State:       state,
		Scopes:      req.Scopes,
		Resource:    req.Resource,
		PKCE:        pkce,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build authorization URL: %w", err)
	}

	if f.notify != nil {
		f.notify(authURL)
	}

	if err := f.browser.Open(authURL); err != nil {
		logging.Warn("OAuthFlow", "Could not open browser, open the URL manually: %v", err)
	}

	result, err := callbackServer.WaitForCallback(ctx)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(result.State), []byte(state)) != 1 {
		logging.Audit(logging.AuditEvent{
			Event:   "oauth_state_mismatch",
			Message: "OAuth state mismatch detected, possible CSRF attack",
			Server:  req.Resource,
			Attributes: map[string]string{
				"expected_state_len": fmt.Sprintf("%d", len(state)),
				"received_state_len": fmt.Sprintf("%d", len(result.State)),
			},
			Err: pkgoauth.ErrStateMismatch,
		})
		return nil, pkgoauth.NewError(pkgoauth.KindStateMismatch, "state mismatch: possible CSRF attack")
	}

	return &AuthorizationResult{
		Code:        result.Code,
		Verifier:    pkce.CodeVerifier,
		RedirectURI: redirectURI,
	}, nil
}
