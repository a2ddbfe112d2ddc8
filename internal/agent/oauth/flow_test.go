package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgoauth "mcpauth/pkg/oauth"
)

// redirectingBrowser plays the authorization server: it reads the
// authorization URL and immediately follows the redirect with a code.
type redirectingBrowser struct {
	t        *testing.T
	code     string
	state    string // overrides the state echoed back when set
	query    url.Values
	openErr  error
	noFollow bool
}

func (b *redirectingBrowser) Open(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	b.query = u.Query()
	if b.noFollow {
		return b.openErr
	}

	state := b.query.Get("state")
	if b.state != "" {
		state = b.state
	}
	callback := b.query.Get("redirect_uri") + "?" + url.Values{"code": {b.code}, "state": {state}}.Encode()

	go func() {
		resp, err := http.Get(callback)
		if err == nil {
			_ = resp.Body.Close()
		}
	}()
	return b.openErr
}

func TestAuthorizationFlow_Run(t *testing.T) {
	browser := &redirectingBrowser{t: t, code: "auth-code"}
	var notified string
	flow := NewAuthorizationFlow(
		WithBrowserOpener(browser),
		WithURLNotifier(func(authURL string) { notified = authURL }),
	)

	port := freePort(t)
	result, err := flow.Run(context.Background(), AuthorizationRequest{
		AuthorizationEndpoint: "https://auth.example.com/authorize",
		ClientID:              "client-1",
		Port:                  port,
		Scopes:                []string{"read", "write"},
		Resource:              "https://mcp.example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "auth-code", result.Code)
	assert.Equal(t, CallbackRedirectURI(port), result.RedirectURI)
	assert.NotEmpty(t, notified)

	q := browser.query
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, pkgoauth.ChallengeFromVerifier(result.Verifier), q.Get("code_challenge"))
	assert.Equal(t, "read write", q.Get("scope"))
	assert.Equal(t, "https://mcp.example.com", q.Get("resource"))
	assert.GreaterOrEqual(t, len(q.Get("state")), 16)
}

func TestAuthorizationFlow_BrowserFailureIsNotFatal(t *testing.T) {
	browser := &redirectingBrowser{t: t, code: "c", openErr: errors.New("no display")}
	flow := NewAuthorizationFlow(WithBrowserOpener(browser))

	result, err := flow.Run(context.Background(), AuthorizationRequest{
		AuthorizationEndpoint: "https://auth.example.com/authorize",
		ClientID:              "client-1",
		Port:                  freePort(t),
	})
	require.NoError(t, err)
	assert.Equal(t, "c", result.Code)
}

func TestAuthorizationFlow_StateMismatch(t *testing.T) {
	browser := &redirectingBrowser{t: t, code: "c", state: "forged-state-value"}
	flow := NewAuthorizationFlow(WithBrowserOpener(browser))

	_, err := flow.Run(context.Background(), AuthorizationRequest{
		AuthorizationEndpoint: "https://auth.example.com/authorize",
		ClientID:              "client-1",
		Port:                  freePort(t),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkgoauth.ErrStateMismatch))
}

func TestAuthorizationFlow_Timeout(t *testing.T) {
	browser := &redirectingBrowser{t: t, noFollow: true}
	flow := NewAuthorizationFlow(WithBrowserOpener(browser), WithFlowTimeout(50*time.Millisecond))

	_, err := flow.Run(context.Background(), AuthorizationRequest{
		AuthorizationEndpoint: "https://auth.example.com/authorize",
		ClientID:              "client-1",
		Port:                  freePort(t),
	})
	require.Error(t, err)
	assert.True(t, pkgoauth.IsKind(err, pkgoauth.KindCallbackTimeout))
}

func TestAuthorizationFlow_ContextCancelled(t *testing.T) {
	browser := &redirectingBrowser{t: t, noFollow: true}
	flow := NewAuthorizationFlow(WithBrowserOpener(browser))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := flow.Run(ctx, AuthorizationRequest{
		AuthorizationEndpoint: "https://auth.example.com/authorize",
		ClientID:              "client-1",
		Port:                  freePort(t),
	})
	require.Error(t, err)
}

func TestAuthorizationFlow_PortInUse(t *testing.T) {
	port := freePort(t)
	blocker := NewCallbackServer(port)
	_, err := blocker.Start(context.Background())
	require.NoError(t, err)
	defer blocker.Close()

	flow := NewAuthorizationFlow(WithBrowserOpener(&redirectingBrowser{t: t, noFollow: true}))
	_, err = flow.Run(context.Background(), AuthorizationRequest{
		AuthorizationEndpoint: "https://auth.example.com/authorize",
		ClientID:              "client-1",
		Port:                  port,
	})
	require.Error(t, err)
}
