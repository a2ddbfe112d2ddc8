// Package oauth implements the interactive OAuth 2.1 login used by mcpauth
// to reach protected MCP servers.
//
// A Provider ties together the protocol client from pkg/oauth, a local
// callback listener, the system browser and file-based token storage:
//
//	store, err := oauth.NewTokenStore(oauth.TokenStoreConfig{Dir: configDir})
//	provider, err := oauth.NewProvider(oauth.ProviderConfig{
//	    ServerURL: "https://mcp.example.com",
//	}, store)
//	token, err := provider.Login(ctx)
//
// # Token Storage
//
// All tokens live in a single file, ~/.config/mcpauth/mcp-oauth.json by
// default, keyed by "{host}/{resource}". The file is written with 0600
// permissions through a temporary file and rename while holding an advisory
// lock, so concurrent mcpauth processes do not lose each other's updates.
//
// # Callback Listener
//
// CallbackServer binds 127.0.0.1 on the first free port of a small range
// and answers exactly one request on /oauth/callback before stopping itself.
//
// # mcp-go Integration
//
// AgentTokenStore adapts the token file to mcp-go's transport.TokenStore,
// and Provider.TransportOAuthConfig returns a ready transport.OAuthConfig.
package oauth
