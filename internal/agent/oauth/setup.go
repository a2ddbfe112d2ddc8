package oauth

import (
	"fmt"

	"github.com/mark3labs/mcp-go/client/transport"
)

// TransportOAuthConfig returns the OAuthConfig for use with mcp-go's
// WithHTTPOAuth / WithOAuth transport options. The token store reads and
// writes the same record as Login, so tokens stored by `mcpauth auth login`
// are picked up by the transport.
func (p *Provider) TransportOAuthConfig() transport.OAuthConfig {
	config := transport.OAuthConfig{
		TokenStore:  p.TransportTokenStore(),
		Scopes:      p.Scopes(),
		PKCEEnabled: true,
	}

	if creds := p.ClientInformation(); creds != nil {
		config.ClientID = creds.ClientID
		config.ClientSecret = creds.ClientSecret
	}

	p.mu.RLock()
	port := p.port
	p.mu.RUnlock()
	if port != 0 {
		config.RedirectURI = CallbackRedirectURI(port)
	}

	return config
}

// SetupOAuthConfig creates a provider for serverURL backed by the token file
// in configDir and returns its mcp-go OAuthConfig.
func SetupOAuthConfig(serverURL, configDir string) (*transport.OAuthConfig, *Provider, error) {
	store, err := NewTokenStore(TokenStoreConfig{Dir: configDir})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token store: %w", err)
	}

	provider, err := NewProvider(ProviderConfig{ServerURL: serverURL}, store)
	if err != nil {
		return nil, nil, err
	}

	config := provider.TransportOAuthConfig()
	return &config, provider, nil
}
