package cmd

import (
	"fmt"
	"io"
	"time"

	"mcpauth/internal/agent/oauth"
	"mcpauth/internal/config"
	"mcpauth/pkg/logging"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// Login-specific flags
var (
	loginServerURL string
	loginClientID  string
	loginScopes    []string
)

// loginProviderOptions are appended to the provider options of auth login.
// Replaced in tests.
var loginProviderOptions []oauth.ProviderOption

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login <server>",
	Short: "Authenticate to an MCP server",
	Long: `Authenticate to an MCP server using OAuth 2.1 with PKCE.

This command discovers the server's authorization server, registers a client
when the server supports dynamic client registration, and opens the browser
for authorization. The resulting token is stored in mcp-oauth.json in the
configuration directory.

When the server is given by URL, or --server-url is used, the server is
added to config.yaml so later commands can refer to it by name.

Examples:
  mcpauth auth login https://mcp.example.com/mcp
  mcpauth auth login github --server-url https://api.githubcopilot.com/mcp
  mcpauth auth login github --scopes repo,read:org`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthLogin,
}

func init() {
	authLoginCmd.Flags().StringVar(&loginServerURL, "server-url", "", "MCP server URL (overrides config.yaml)")
	authLoginCmd.Flags().StringVar(&loginClientID, "client-id", "", "Pre-registered OAuth client ID")
	authLoginCmd.Flags().StringSliceVar(&loginScopes, "scopes", nil, "Scopes to request (comma separated)")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	dir, cfg, err := loadAuthContext()
	if err != nil {
		return err
	}
	target, err := resolveServer(cfg, args[0], loginServerURL)
	if err != nil {
		return err
	}
	if loginClientID != "" {
		target.Server.ClientID = loginClientID
	}
	if len(loginScopes) > 0 {
		target.Server.Scopes = loginScopes
	}

	wait := newAuthSpinner(cmd.ErrOrStderr())
	opts := append([]oauth.ProviderOption{oauth.WithAuthURLNotifier(func(authURL string) {
		authPrint(out, "Opening browser for authorization...\n")
		authPrint(out, "If the browser does not open, visit:\n  %s\n\n", authURL)
		wait.Start()
	})}, loginProviderOptions...)
	provider, err := newProvider(dir, cfg, target, opts...)
	if err != nil {
		return err
	}

	token, err := provider.Login(cmd.Context())
	wait.Stop()
	if err != nil {
		return fmt.Errorf("login to %s failed: %w", target.Name, err)
	}

	authPrint(out, "%s Authenticated to %s", text.FgGreen.Sprint("✓"), target.Name)
	if expiry := token.Expiry(); !expiry.IsZero() {
		authPrint(out, " (token expires %s)", formatExpiryWithDirection(expiry))
	}
	authPrintln(out)

	if shouldRemember(target, cmd) {
		if err := rememberServer(dir, cfg, target); err != nil {
			logging.Warn("CLI", "Failed to save server %s to config: %v", target.Name, err)
		}
	}
	return nil
}

// shouldRemember reports whether a successful login should be written back
// to config.yaml.
func shouldRemember(target serverTarget, cmd *cobra.Command) bool {
	if !target.Known {
		return true
	}
	flags := cmd.Flags()
	return flags.Changed("server-url") || flags.Changed("client-id") || flags.Changed("scopes")
}

func rememberServer(dir string, cfg config.Config, target serverTarget) error {
	cfg.SetServer(target.Name, target.Server)
	return config.SaveConfig(dir, cfg)
}

// authSpinner wraps a spinner that is a no-op in quiet mode.
type authSpinner struct {
	s *spinner.Spinner
}

func newAuthSpinner(w io.Writer) *authSpinner {
	if quiet {
		return &authSpinner{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " Waiting for authorization..."
	return &authSpinner{s: s}
}

func (a *authSpinner) Start() {
	if a.s != nil {
		a.s.Start()
	}
}

func (a *authSpinner) Stop() {
	if a.s != nil {
		a.s.Stop()
	}
}
