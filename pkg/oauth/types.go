package oauth

import (
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultExpiryMargin is subtracted from a token's expiry when deciding
	// whether it is still usable, so that tokens are not presented at the
	// very edge of their lifetime.
	DefaultExpiryMargin = 60 * time.Second

	// PKCEMethodS256 is the only code challenge method this package emits.
	PKCEMethodS256 = "S256"

	// TokenEndpointAuthMethodNone marks a public client (RFC 7591 Section 2).
	TokenEndpointAuthMethodNone = "none"

	// TokenTypeBearer is the token type of every token issued through this package.
	TokenTypeBearer = "Bearer"
)

// ServerMetadata holds the authorization server endpoints resolved for a
// protected resource (RFC 8414), together with the resource indicator
// advertised by the resource itself (RFC 9728).
type ServerMetadata struct {
	// Issuer is the authorization server identifier.
	Issuer string `json:"issuer,omitempty"`

	// AuthorizationEndpoint is where the user agent is sent to authorize.
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is where codes and refresh tokens are exchanged.
	TokenEndpoint string `json:"token_endpoint"`

	// RegistrationEndpoint is the RFC 7591 endpoint, if the server supports DCR.
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`

	// ScopesSupported lists the scopes the authorization server advertises.
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// CodeChallengeMethodsSupported lists the PKCE methods the server accepts.
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`

	// Resource is the RFC 8707 resource indicator taken from the protected
	// resource metadata. Empty when the resource published none.
	Resource string `json:"-"`
}

// SupportsRegistration returns true if the server exposes a DCR endpoint.
func (m *ServerMetadata) SupportsRegistration() bool {
	return m != nil && m.RegistrationEndpoint != ""
}

// SupportsPKCE returns true unless the server explicitly lists code challenge
// methods that do not include S256.
func (m *ServerMetadata) SupportsPKCE() bool {
	if len(m.CodeChallengeMethodsSupported) == 0 {
		return true
	}
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == PKCEMethodS256 {
			return true
		}
	}
	return false
}

// ProtectedResourceMetadata is the RFC 9728 document served by a resource
// server at /.well-known/oauth-protected-resource.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource,omitempty"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
}

// ClientCredentials identifies this client at an authorization server.
type ClientCredentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// TokenData is the persisted token record for one resource server.
type TokenData struct {
	// AccessToken is the bearer token presented to the resource server.
	AccessToken string `json:"accessToken"`

	// RefreshToken is used to obtain a new access token, if issued.
	RefreshToken string `json:"refreshToken,omitempty"`

	// ExpiresAt is the access token expiry in unix seconds. Zero means unknown.
	ExpiresAt int64 `json:"expiresAt,omitempty"`

	// ClientInfo records the client the token was issued to.
	ClientInfo *ClientCredentials `json:"clientInfo,omitempty"`
}

// Expiry returns ExpiresAt as a time.Time, or the zero time if unknown.
func (t *TokenData) Expiry() time.Time {
	if t == nil || t.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(t.ExpiresAt, 0)
}

// SetExpiresIn sets ExpiresAt to now plus the given lifetime in seconds.
// Non-positive lifetimes leave the expiry unknown.
func (t *TokenData) SetExpiresIn(seconds int64, now time.Time) {
	if seconds <= 0 {
		t.ExpiresAt = 0
		return
	}
	t.ExpiresAt = now.Add(time.Duration(seconds) * time.Second).Unix()
}

// IsExpired returns true if the token has expired or will expire within
// DefaultExpiryMargin. Tokens without a known expiry never expire.
func (t *TokenData) IsExpired() bool {
	return t.IsExpiredWithMargin(DefaultExpiryMargin)
}

// IsExpiredWithMargin is IsExpired with a caller supplied margin.
func (t *TokenData) IsExpiredWithMargin(margin time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	if t.ExpiresAt == 0 {
		return false
	}
	return time.Now().Add(margin).After(t.Expiry())
}

// OAuth2Token converts the record into an oauth2.Token.
func (t *TokenData) OAuth2Token() *oauth2.Token {
	if t == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    TokenTypeBearer,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry(),
	}
}

// TokenDataFromOAuth2 converts an oauth2.Token into a record, keeping the
// given client information.
func TokenDataFromOAuth2(token *oauth2.Token, clientInfo *ClientCredentials) *TokenData {
	if token == nil {
		return nil
	}
	data := &TokenData{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ClientInfo:   clientInfo,
	}
	if !token.Expiry.IsZero() {
		data.ExpiresAt = token.Expiry.Unix()
	}
	return data
}

// StepUpInfo describes additional scopes demanded by a resource server.
type StepUpInfo struct {
	RequiredScopes   []string
	Error            string
	ErrorDescription string
}

// PKCEChallenge holds a PKCE verifier and its derived challenge.
type PKCEChallenge struct {
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod string
}

// NormalizeHost reduces a host, host:port or URL to a lowercase host name.
// Scheme, path, port and IPv6 brackets are removed, so
// "https://Example.com:443/mcp" and "example.com" both yield "example.com".
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	withScheme := host
	if !strings.Contains(host, "://") {
		withScheme = "https://" + host
	}
	if u, err := url.Parse(withScheme); err == nil && u.Host != "" {
		return strings.ToLower(u.Hostname())
	}

	// Fall back to manual trimming for inputs url.Parse rejects.
	if idx := strings.Index(host, "://"); idx >= 0 {
		host = host[idx+3:]
	}
	if idx := strings.IndexAny(host, "/?#"); idx >= 0 {
		host = host[:idx]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	return strings.ToLower(host)
}

// NormalizeResource strips any scheme plus leading and trailing slashes from a
// resource identifier, so "https://mcp.example.com/" becomes "mcp.example.com"
// and "/tools" becomes "tools".
func NormalizeResource(resource string) string {
	resource = strings.TrimSpace(resource)
	if idx := strings.Index(resource, "://"); idx >= 0 {
		resource = resource[idx+3:]
	}
	return strings.Trim(resource, "/")
}

// TokenKey builds the storage key "{normalizedHost}/{normalizedResource}".
func TokenKey(host, resource string) string {
	return NormalizeHost(host) + "/" + NormalizeResource(resource)
}

// NormalizeServerURL returns a canonical form of a server URL: lowercase
// scheme and host, no fragment, no trailing slash.
func NormalizeServerURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = strings.TrimSuffix(u.RawPath, "/")
	return u.String(), nil
}
