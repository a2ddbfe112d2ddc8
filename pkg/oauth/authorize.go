package oauth

import (
	"fmt"
	"net/url"
	"strings"
)

// AuthorizationParams are the inputs of an authorization request URL.
type AuthorizationParams struct {
	ClientID    string
	RedirectURI string
	State       string
	Scopes      []string
	// Resource is the RFC 8707 resource indicator; omitted when empty.
	Resource string
	PKCE     *PKCEChallenge
}

// BuildAuthorizationURL constructs an OAuth authorization URL. Query
// parameters already present on the endpoint are preserved.
func BuildAuthorizationURL(authEndpoint string, params AuthorizationParams) (string, error) {
	authURL, err := url.Parse(authEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}
	if params.PKCE == nil {
		return "", fmt.Errorf("PKCE challenge is required")
	}

	query := authURL.Query()
	query.Set("response_type", "code")
	query.Set("client_id", params.ClientID)
	query.Set("redirect_uri", params.RedirectURI)
	query.Set("code_challenge", params.PKCE.CodeChallenge)
	query.Set("code_challenge_method", params.PKCE.CodeChallengeMethod)
	query.Set("state", params.State)

	if scope := strings.Join(params.Scopes, " "); scope != "" {
		query.Set("scope", scope)
	}
	if params.Resource != "" {
		query.Set("resource", params.Resource)
	}

	authURL.RawQuery = query.Encode()
	return authURL.String(), nil
}
