// Package logging provides the structured logging used across mcpauth.
//
// It is a thin layer over log/slog that tags every record with a subsystem and
// offers printf-style helpers, so call sites stay short:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("TokenStore", "Loaded %d records", n)
//	logging.Debug("Discovery", "Fetching %s", metadataURL)
//	logging.Error("Provider", err, "Token exchange failed for %s", serverURL)
//
// # Security audit events
//
// Operations that create, remove or fail to persist credentials are reported
// through Audit. Records carry a "SECURITY_AUDIT:" message prefix and an
// "event" attribute so they can be filtered from regular output:
//
//	logging.Audit(logging.AuditEvent{
//		Event:   "token_stored",
//		Message: "OAuth token stored",
//		Server:  "mcp.example.com/mcp.example.com",
//	})
//
// Token values, client secrets and authorization codes must never be passed to
// any function of this package.
package logging
