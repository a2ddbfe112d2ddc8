package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcpauth/pkg/logging"
	pkgoauth "mcpauth/pkg/oauth"
)

// DefaultClientName is sent as client_name during dynamic registration.
const DefaultClientName = "mcpauth"

// AuthState represents the authentication state of a provider.
type AuthState int

const (
	// AuthStateUnknown means no login has been attempted and no token is cached.
	AuthStateUnknown AuthState = iota

	// AuthStateAuthenticated means we have a token.
	AuthStateAuthenticated

	// AuthStatePendingAuth means a login is waiting for the user.
	AuthStatePendingAuth

	// AuthStateError means the last login or refresh failed.
	AuthStateError
)

// String returns the string representation of the auth state.
func (s AuthState) String() string {
	switch s {
	case AuthStateUnknown:
		return "unknown"
	case AuthStateAuthenticated:
		return "authenticated"
	case AuthStatePendingAuth:
		return "pending_auth"
	case AuthStateError:
		return "error"
	default:
		return "unknown"
	}
}

// ProviderConfig configures a Provider for one MCP server.
type ProviderConfig struct {
	// ServerURL is the MCP server (resource) URL. Required.
	ServerURL string

	// ClientID is used when dynamic registration is unavailable or fails.
	ClientID string

	// ClientSecret accompanies ClientID for confidential clients.
	ClientSecret string

	// Scopes are requested during authorization.
	Scopes []string

	// ClientName defaults to DefaultClientName.
	ClientName string

	// CallbackPort is the first port probed for the callback server.
	// Defaults to DefaultCallbackPort.
	CallbackPort int
}

// Provider drives the OAuth login for a single MCP server and exposes the
// resulting tokens and client information.
type Provider struct {
	cfg       ProviderConfig
	serverURL string
	store     *TokenStore

	client          *pkgoauth.Client
	httpClient      *http.Client
	browser         BrowserOpener
	probe           PortProbe
	callbackTimeout time.Duration
	notify          URLNotifier

	mu        sync.RWMutex
	scopes    []string
	port      int
	clients   map[string]*pkgoauth.ClientCredentials
	unsaved   *pkgoauth.TokenData
	state     AuthState
	lastError error
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithOAuthClient sets the protocol client used for discovery, registration
// and token requests.
func WithOAuthClient(client *pkgoauth.Client) ProviderOption {
	return func(p *Provider) {
		p.client = client
	}
}

// WithProviderHTTPClient sets the HTTP client of the default protocol client.
// It is ignored when WithOAuthClient is used.
func WithProviderHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = httpClient
	}
}

// WithProviderBrowser replaces the system browser.
func WithProviderBrowser(opener BrowserOpener) ProviderOption {
	return func(p *Provider) {
		if opener != nil {
			p.browser = opener
		}
	}
}

// WithPortProbe replaces the TCP port probe.
func WithPortProbe(probe PortProbe) ProviderOption {
	return func(p *Provider) {
		if probe != nil {
			p.probe = probe
		}
	}
}

// WithProviderCallbackTimeout overrides CallbackTimeout.
func WithProviderCallbackTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.callbackTimeout = timeout
		}
	}
}

// WithAuthURLNotifier registers a function that receives each authorization URL.
func WithAuthURLNotifier(notify URLNotifier) ProviderOption {
	return func(p *Provider) {
		p.notify = notify
	}
}

// NewProvider creates a provider for cfg.ServerURL backed by store.
func NewProvider(cfg ProviderConfig, store *TokenStore, opts ...ProviderOption) (*Provider, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("server URL is required")
	}
	if store == nil {
		return nil, errors.New("token store is required")
	}
	serverURL, err := pkgoauth.NormalizeServerURL(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}
	if cfg.CallbackPort == 0 {
		cfg.CallbackPort = DefaultCallbackPort
	}

	p := &Provider{
		cfg:             cfg,
		serverURL:       serverURL,
		store:           store,
		browser:         SystemBrowser{},
		probe:           TCPPortProbe{},
		callbackTimeout: CallbackTimeout,
		scopes:          append([]string(nil), cfg.Scopes...),
		clients:         make(map[string]*pkgoauth.ClientCredentials),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		clientOpts := []pkgoauth.ClientOption{pkgoauth.WithLogger(logging.Logger())}
		if p.httpClient != nil {
			clientOpts = append(clientOpts, pkgoauth.WithHTTPClient(p.httpClient))
		}
		p.client = pkgoauth.NewClient(clientOpts...)
	}

	return p, nil
}

// ServerURL returns the normalized server URL.
func (p *Provider) ServerURL() string {
	return p.serverURL
}

// Login runs discovery, client registration, the browser flow and the token
// exchange, then persists and returns the token.
func (p *Provider) Login(ctx context.Context) (*pkgoauth.TokenData, error) {
	flowID := uuid.NewString()
	logging.Info("OAuthProvider", "Starting OAuth login for %s (flow %s)", p.serverURL, flowID)

	p.setState(AuthStatePendingAuth, nil)

	token, err := p.login(ctx, flowID)
	if err != nil {
		p.setState(AuthStateError, err)
		logging.Error("OAuthProvider", err, "OAuth login for %s failed (flow %s)", p.serverURL, flowID)
		return nil, err
	}

	p.setState(AuthStateAuthenticated, nil)
	logging.Info("OAuthProvider", "OAuth login for %s succeeded (flow %s)", p.serverURL, flowID)
	return token, nil
}

func (p *Provider) login(ctx context.Context, flowID string) (*pkgoauth.TokenData, error) {
	metadata, err := p.client.DiscoverMetadata(ctx, p.serverURL)
	if err != nil {
		return nil, err
	}
	logging.Debug("OAuthProvider", "Discovered issuer %s for %s (flow %s)", metadata.Issuer, p.serverURL, flowID)
	if !metadata.SupportsPKCE() {
		return nil, pkgoauth.NewError(pkgoauth.KindDiscoveryMalformed,
			"authorization server %s does not support PKCE S256 (supports %v)", metadata.Issuer, metadata.CodeChallengeMethodsSupported)
	}

	port, err := p.callbackPort()
	if err != nil {
		return nil, err
	}

	creds := p.client.RegisterClient(ctx, pkgoauth.RegistrationRequest{
		RegistrationEndpoint:    metadata.RegistrationEndpoint,
		ServerIdentifier:        p.serverURL,
		ClientName:              p.cfg.ClientName,
		RedirectURIs:            []string{CallbackRedirectURI(port)},
		TokenEndpointAuthMethod: pkgoauth.TokenEndpointAuthMethodNone,
		ConfigClientID:          p.cfg.ClientID,
	}, p)
	if creds == nil {
		return nil, pkgoauth.NewError(pkgoauth.KindRegistrationUnavailable,
			"no client credentials for %s: dynamic registration unavailable and no client id configured", p.serverURL)
	}
	if creds.ClientSecret == "" && creds.ClientID == p.cfg.ClientID {
		creds = &pkgoauth.ClientCredentials{ClientID: creds.ClientID, ClientSecret: p.cfg.ClientSecret}
	}

	flow := NewAuthorizationFlow(
		WithBrowserOpener(p.browser),
		WithURLNotifier(p.notify),
		WithFlowTimeout(p.callbackTimeout),
	)
	result, err := flow.Run(ctx, AuthorizationRequest{
		AuthorizationEndpoint: metadata.AuthorizationEndpoint,
		ClientID:              creds.ClientID,
		Port:                  port,
		Scopes:                p.Scopes(),
		Resource:              metadata.Resource,
	})
	if err != nil {
		return nil, err
	}

	token, err := p.client.ExchangeCode(ctx, pkgoauth.CodeExchangeRequest{
		TokenEndpoint: metadata.TokenEndpoint,
		Code:          result.Code,
		RedirectURI:   result.RedirectURI,
		CodeVerifier:  result.Verifier,
		Client:        *creds,
		Resource:      metadata.Resource,
	})
	if err != nil {
		return nil, err
	}

	if err := p.SaveTokens(token); err != nil {
		// The token is still usable for this process.
		logging.Warn("OAuthProvider", "Failed to persist OAuth token for %s: %v", p.serverURL, err)
	}
	return token, nil
}

// callbackPort returns the port chosen on the first login, probing for one
// if none has been chosen yet.
func (p *Provider) callbackPort() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port != 0 {
		return p.port, nil
	}
	port, err := FindAvailablePort(p.cfg.CallbackPort, p.probe)
	if err != nil {
		return 0, err
	}
	p.port = port
	return port, nil
}

// Tokens returns the current token. The store is read on every call so a
// token rotated through TransportTokenStore is seen here. A token whose
// persistence failed is returned until the store holds a record again.
// It returns nil when no token is known.
func (p *Provider) Tokens() *pkgoauth.TokenData {
	if token := p.store.Load(p.serverURL, p.serverURL); token != nil {
		p.mu.Lock()
		p.unsaved = nil
		p.mu.Unlock()
		return token
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.unsaved
}

// SaveTokens persists token. When the write fails the token is kept in memory
// and still returned by Tokens.
func (p *Provider) SaveTokens(token *pkgoauth.TokenData) error {
	if token == nil {
		return errors.New("token is nil")
	}

	err := p.store.Save(p.serverURL, p.serverURL, token)

	p.mu.Lock()
	if err != nil {
		p.unsaved = token
	} else {
		p.unsaved = nil
	}
	p.mu.Unlock()
	return err
}

// ClientInformation returns the client credentials for this server: the
// registered client, else the client recorded with the stored token, else
// the configured client id. It returns nil when none is available.
func (p *Provider) ClientInformation() *pkgoauth.ClientCredentials {
	if creds := p.ClientRegistration(p.serverURL); creds != nil {
		return creds
	}
	if token := p.Tokens(); token != nil && token.ClientInfo != nil && token.ClientInfo.ClientID != "" {
		return token.ClientInfo
	}
	if p.cfg.ClientID != "" {
		return &pkgoauth.ClientCredentials{ClientID: p.cfg.ClientID, ClientSecret: p.cfg.ClientSecret}
	}
	return nil
}

// SaveClientInformation caches credentials for this server.
func (p *Provider) SaveClientInformation(creds *pkgoauth.ClientCredentials) {
	p.SetClientRegistration(p.serverURL, creds)
}

// ClientRegistration implements pkgoauth.ClientStore.
func (p *Provider) ClientRegistration(serverIdentifier string) *pkgoauth.ClientCredentials {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clients[serverIdentifier]
}

// SetClientRegistration implements pkgoauth.ClientStore.
func (p *Provider) SetClientRegistration(serverIdentifier string, creds *pkgoauth.ClientCredentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if creds == nil {
		delete(p.clients, serverIdentifier)
		return
	}
	p.clients[serverIdentifier] = creds
}

// RedirectToAuthorization opens authURL in the browser. It fails without
// opening anything when no client information is available yet.
func (p *Provider) RedirectToAuthorization(authURL string) error {
	if p.ClientInformation() == nil {
		return pkgoauth.NewError(pkgoauth.KindRegistrationUnavailable,
			"no client information for %s: log in before redirecting to authorization", p.serverURL)
	}
	return p.browser.Open(authURL)
}

// StepUp merges the scopes demanded by a step-up challenge into the scopes
// requested on the next login. It returns the merged scopes.
func (p *Provider) StepUp(info *pkgoauth.StepUpInfo) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if info != nil {
		p.scopes = pkgoauth.MergeScopes(p.scopes, info.RequiredScopes)
		logging.Info("OAuthProvider", "Step-up for %s requires scopes %v", p.serverURL, info.RequiredScopes)
	}
	return append([]string(nil), p.scopes...)
}

// Scopes returns the scopes requested on login.
func (p *Provider) Scopes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.scopes...)
}

// Refresh exchanges the stored refresh token for a new access token and
// persists the result.
func (p *Provider) Refresh(ctx context.Context) (*pkgoauth.TokenData, error) {
	current := p.Tokens()
	if current == nil || current.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token stored for %s", p.serverURL)
	}

	creds := p.ClientInformation()
	if creds == nil {
		return nil, pkgoauth.NewError(pkgoauth.KindRegistrationUnavailable,
			"no client information for %s", p.serverURL)
	}

	metadata, err := p.client.DiscoverMetadata(ctx, p.serverURL)
	if err != nil {
		return nil, err
	}

	token, err := p.client.RefreshToken(ctx, pkgoauth.RefreshRequest{
		TokenEndpoint: metadata.TokenEndpoint,
		RefreshToken:  current.RefreshToken,
		Client:        *creds,
		Resource:      metadata.Resource,
	})
	if err != nil {
		p.setState(AuthStateError, err)
		return nil, err
	}

	if err := p.SaveTokens(token); err != nil {
		return nil, err
	}
	p.setState(AuthStateAuthenticated, nil)
	logging.Info("OAuthProvider", "Refreshed OAuth token for %s", p.serverURL)
	return token, nil
}

// Logout deletes the stored token and clears all cached state.
func (p *Provider) Logout() error {
	p.mu.Lock()
	p.unsaved = nil
	p.clients = make(map[string]*pkgoauth.ClientCredentials)
	p.state = AuthStateUnknown
	p.lastError = nil
	p.mu.Unlock()

	return p.store.Delete(p.serverURL, p.serverURL)
}

// State returns the authentication state.
func (p *Provider) State() AuthState {
	p.mu.RLock()
	state := p.state
	p.mu.RUnlock()

	if state == AuthStateUnknown && p.Tokens() != nil {
		return AuthStateAuthenticated
	}
	return state
}

// LastError returns the error of the last failed login or refresh.
func (p *Provider) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastError
}

func (p *Provider) setState(state AuthState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	p.lastError = err
}

// TransportTokenStore returns an mcp-go token store bound to this server's record.
func (p *Provider) TransportTokenStore() *AgentTokenStore {
	return NewAgentTokenStore(p.serverURL, p.store)
}

var _ pkgoauth.ClientStore = (*Provider)(nil)
