// Package config loads and saves the mcpauth configuration.
//
// Configuration lives in a single directory, ~/.config/mcpauth by default,
// overridable with the MCPAUTH_CONFIG_DIR environment variable or the
// --config-dir flag. The directory holds:
//   - config.yaml (named servers, callback port, client name)
//   - mcp-oauth.json (tokens, managed by internal/agent/oauth)
//
// A missing config.yaml is not an error; defaults are used instead.
//
// Example config.yaml:
//
//	callbackPort: 3000
//	clientName: mcpauth
//	servers:
//	  docs:
//	    url: https://mcp.example.com
//	    scopes: [read]
package config
