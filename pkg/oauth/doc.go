// Package oauth implements the protocol side of an OAuth 2.1 public client
// for MCP servers.
//
// It contains no interactive or persistent state. The interactive parts
// (local callback server, browser, token file) live in internal/oauth and
// build on the types and operations here.
//
// # Core Components
//
//   - Client: metadata discovery (RFC 9728 then RFC 8414), dynamic client
//     registration (RFC 7591) and token endpoint requests
//   - PKCE: verifier and S256 challenge generation (RFC 7636)
//   - BuildAuthorizationURL: authorization request URLs with resource
//     indicators (RFC 8707)
//   - DetectStepUp and MergeScopes: insufficient-scope challenges
//   - Error: typed failures, matched with errors.Is against the Err* values
//
// # Usage
//
//	client := oauth.NewClient(oauth.WithLogger(logger))
//	metadata, err := client.DiscoverMetadata(ctx, "https://mcp.example.com")
//	if errors.Is(err, oauth.ErrDiscoveryNotFound) {
//		// server is not OAuth protected, or misconfigured
//	}
//
//	if info := oauth.DetectStepUpFromResponse(resp); info != nil {
//		scopes = oauth.MergeScopes(scopes, info.RequiredScopes)
//	}
package oauth
