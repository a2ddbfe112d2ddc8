package cmd

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"mcpauth/internal/agent/oauth"
	"mcpauth/internal/config"
	"mcpauth/pkg/logging"
	pkgoauth "mcpauth/pkg/oauth"

	"github.com/jedib0t/go-pretty/v6/text"
)

// serverTarget is an MCP server resolved from a CLI argument.
type serverTarget struct {
	// Name is the configured name, or the host when a URL was given.
	Name string
	// Server holds the URL and any configured client settings.
	Server config.ServerConfig
	// Known reports whether the server was found in config.yaml.
	Known bool
}

// authPrint prints output only if the --quiet flag is not set.
// Use this for progress messages and non-essential output.
func authPrint(w io.Writer, format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// authPrintln prints a line only if the --quiet flag is not set.
func authPrintln(w io.Writer, a ...interface{}) {
	if !quiet {
		fmt.Fprintln(w, a...)
	}
}

// loadAuthContext resolves the config directory and loads config.yaml.
func loadAuthContext() (string, config.Config, error) {
	dir, err := resolveConfigDir()
	if err != nil {
		return "", config.Config{}, err
	}
	cfg, err := config.LoadConfig(dir)
	if err != nil {
		return "", config.Config{}, err
	}
	return dir, cfg, nil
}

// resolveServer maps a server argument to a target. The argument is either
// a name from config.yaml or a server URL. urlOverride takes precedence and
// names the server after arg.
func resolveServer(cfg config.Config, arg, urlOverride string) (serverTarget, error) {
	if urlOverride != "" {
		target := serverTarget{Name: arg}
		if existing, ok := cfg.Server(arg); ok {
			target.Server = existing
			target.Known = true
		}
		target.Server.URL = urlOverride
		return target, validateTarget(target)
	}

	if existing, ok := cfg.Server(arg); ok {
		return serverTarget{Name: arg, Server: existing, Known: true}, nil
	}

	if strings.Contains(arg, "://") {
		target := serverTarget{
			Name:   pkgoauth.NormalizeHost(arg),
			Server: config.ServerConfig{URL: arg},
		}
		return target, validateTarget(target)
	}

	return serverTarget{}, fmt.Errorf("unknown server %q: pass a server URL or use --server-url", arg)
}

func validateTarget(target serverTarget) error {
	if err := config.ValidateServerName(target.Name); err != nil {
		return err
	}
	return config.ValidateServerURL("server-url", target.Server.URL)
}

// isLoopbackHTTP reports whether raw is a plain http URL on a loopback host.
func isLoopbackHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "http" {
		return false
	}
	return pkgoauth.IsLoopbackHost(u.Hostname())
}

// newProvider creates a provider for target using the shared token file.
func newProvider(dir string, cfg config.Config, target serverTarget, opts ...oauth.ProviderOption) (*oauth.Provider, error) {
	store, err := oauth.NewTokenStore(oauth.TokenStoreConfig{Dir: dir})
	if err != nil {
		return nil, err
	}

	if isLoopbackHTTP(target.Server.URL) {
		client := pkgoauth.NewClient(
			pkgoauth.WithLogger(logging.Logger()),
			pkgoauth.WithAllowInsecureLoopback(true),
		)
		opts = append([]oauth.ProviderOption{oauth.WithOAuthClient(client)}, opts...)
	}

	return oauth.NewProvider(oauth.ProviderConfig{
		ServerURL:    target.Server.URL,
		ClientID:     target.Server.ClientID,
		ClientSecret: target.Server.ClientSecret,
		Scopes:       target.Server.Scopes,
		ClientName:   cfg.ClientName,
		CallbackPort: cfg.CallbackPort,
	}, store, opts...)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Minute {
		return "< 1 minute"
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// formatExpiryWithDirection formats a time as "in X" or "expired X ago".
func formatExpiryWithDirection(expiresAt time.Time) string {
	remaining := time.Until(expiresAt)
	if remaining > 0 {
		return "in " + formatDuration(remaining)
	}
	// Token is expired
	expiredAgo := -remaining
	return text.FgYellow.Sprintf("expired %s ago", formatDuration(expiredAgo))
}
