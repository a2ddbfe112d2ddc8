package oauth

import (
	"context"

	"github.com/mark3labs/mcp-go/client/transport"
	"golang.org/x/oauth2"

	pkgoauth "mcpauth/pkg/oauth"
)

// AgentTokenStore is a thin context-binder that implements mcp-go's
// transport.TokenStore interface by binding a server URL to the
// file-based TokenStore.
//
// It has no storage of its own. mcp-go owns token refresh and 401 handling;
// this store returns the current token as-is and persists whatever mcp-go
// writes back after a successful refresh.
type AgentTokenStore struct {
	serverURL  string
	tokenStore *TokenStore
}

// NewAgentTokenStore creates a new token store that binds the given
// server URL to the file-based token store.
func NewAgentTokenStore(serverURL string, tokenStore *TokenStore) *AgentTokenStore {
	return &AgentTokenStore{
		serverURL:  serverURL,
		tokenStore: tokenStore,
	}
}

// GetToken returns the current OAuth token from the file-based store.
// Returns transport.ErrNoToken when no token is available, which signals
// mcp-go to initiate the OAuth authorization flow.
func (s *AgentTokenStore) GetToken(ctx context.Context) (*transport.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := s.tokenStore.Load(s.serverURL, s.serverURL)
	if stored == nil || stored.AccessToken == "" {
		return nil, transport.ErrNoToken
	}

	token := stored.OAuth2Token()
	return &transport.Token{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

// SaveToken persists a refreshed token to the file-based store.
// mcp-go calls this after a successful token refresh.
//
// The client information of the existing record is kept, since mcp-go's
// transport.Token does not carry it.
func (s *AgentTokenStore) SaveToken(ctx context.Context, token *transport.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.tokenStore == nil || token == nil {
		return nil
	}

	data := pkgoauth.TokenDataFromOAuth2(&oauth2.Token{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		Expiry:       token.ExpiresAt,
	}, nil)
	if existing := s.tokenStore.Load(s.serverURL, s.serverURL); existing != nil {
		data.ClientInfo = existing.ClientInfo
		if data.RefreshToken == "" {
			data.RefreshToken = existing.RefreshToken
		}
	}

	return s.tokenStore.Save(s.serverURL, s.serverURL, data)
}

// Ensure AgentTokenStore implements transport.TokenStore at compile time.
var _ transport.TokenStore = (*AgentTokenStore)(nil)
