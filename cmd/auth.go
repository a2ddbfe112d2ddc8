package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"mcpauth/internal/agent/oauth"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage OAuth credentials for MCP servers",
	Long: `Manage OAuth credentials for MCP servers.

The auth command group provides subcommands to login, logout, check status,
and refresh tokens for MCP servers that require OAuth 2.1 authorization.
A server is either a name from config.yaml or a server URL.

Examples:
  mcpauth auth login https://mcp.example.com/mcp   # Login to a server by URL
  mcpauth auth login github                        # Login to a configured server
  mcpauth auth status                              # Show stored tokens
  mcpauth auth logout github                       # Forget the token for a server
  mcpauth auth logout --all                        # Clear all stored tokens
  mcpauth auth refresh github                      # Force token refresh`,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout [server]",
	Short: "Clear stored OAuth tokens",
	Long: `Clear stored OAuth tokens.

This command removes the stored token for a server, requiring you to
re-authenticate on the next connection. Logging out of a server that has no
stored token is not an error.

Examples:
  mcpauth auth logout github           # Logout from a configured server
  mcpauth auth logout --all            # Clear all stored tokens
  mcpauth auth logout --all --yes      # Clear all without confirmation`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthLogout,
}

// authRefreshCmd represents the auth refresh command
var authRefreshCmd = &cobra.Command{
	Use:   "refresh <server>",
	Short: "Force token refresh",
	Long: `Force a refresh of the stored access token using its refresh token.

Examples:
  mcpauth auth refresh github
  mcpauth auth refresh https://mcp.example.com/mcp`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthRefresh,
}

// Logout-specific flags
var (
	logoutAll bool
	logoutYes bool
)

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authRefreshCmd)

	authLogoutCmd.Flags().BoolVar(&logoutAll, "all", false, "Clear all stored tokens")
	authLogoutCmd.Flags().BoolVarP(&logoutYes, "yes", "y", false, "Skip confirmation prompt for --all")
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if logoutAll {
		if len(args) > 0 {
			return fmt.Errorf("--all cannot be combined with a server argument")
		}
		return logoutEverything(cmd)
	}
	if len(args) == 0 {
		return fmt.Errorf("specify a server or use --all")
	}

	dir, cfg, err := loadAuthContext()
	if err != nil {
		return err
	}
	target, err := resolveServer(cfg, args[0], "")
	if err != nil {
		return err
	}
	provider, err := newProvider(dir, cfg, target)
	if err != nil {
		return err
	}

	if err := provider.Logout(); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}

	authPrint(out, "Logged out from %s\n", target.Name)
	return nil
}

func logoutEverything(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	dir, err := resolveConfigDir()
	if err != nil {
		return err
	}
	store, err := oauth.NewTokenStore(oauth.TokenStoreConfig{Dir: dir})
	if err != nil {
		return err
	}

	entries := store.List()
	if len(entries) == 0 {
		authPrintln(out, "No stored tokens to clear.")
		return nil
	}

	if !logoutYes {
		fmt.Fprintf(out, "The following %d token(s) will be cleared:\n", len(entries))
		for _, entry := range entries {
			fmt.Fprintf(out, "  - %s\n", entry.Key)
		}
		fmt.Fprint(out, "\nAre you sure you want to clear all tokens? [y/N]: ")

		reader := bufio.NewReader(cmd.InOrStdin())
		response, err := reader.ReadString('\n')
		if err != nil && response == "" {
			return fmt.Errorf("failed to read response: %w", err)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := store.Clear(); err != nil {
		return fmt.Errorf("failed to clear all tokens: %w", err)
	}

	authPrint(out, "Cleared %d stored token(s).\n", len(entries))
	return nil
}

func runAuthRefresh(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	dir, cfg, err := loadAuthContext()
	if err != nil {
		return err
	}
	target, err := resolveServer(cfg, args[0], "")
	if err != nil {
		return err
	}
	provider, err := newProvider(dir, cfg, target)
	if err != nil {
		return err
	}

	authPrint(out, "Refreshing token for %s...\n", target.Name)
	token, err := provider.Refresh(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}

	authPrint(out, "%s Token refreshed", text.FgGreen.Sprint("✓"))
	if expiry := token.Expiry(); !expiry.IsZero() {
		authPrint(out, " (expires %s)", formatExpiryWithDirection(expiry))
	}
	authPrintln(out)
	return nil
}
