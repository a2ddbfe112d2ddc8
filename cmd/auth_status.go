package cmd

import (
	"fmt"
	"io"

	"mcpauth/internal/agent/oauth"
	pkgoauth "mcpauth/pkg/oauth"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status [server]",
	Short: "Show stored OAuth tokens",
	Long: `Show the OAuth tokens stored in mcp-oauth.json.

Without an argument every stored token is listed. With a server name or URL
only the tokens for that server's host are shown.

Examples:
  mcpauth auth status
  mcpauth auth status github
  mcpauth auth status https://mcp.example.com/mcp`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthStatus,
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	dir, cfg, err := loadAuthContext()
	if err != nil {
		return err
	}
	store, err := oauth.NewTokenStore(oauth.TokenStoreConfig{Dir: dir})
	if err != nil {
		return err
	}

	var entries []oauth.TokenEntry
	if len(args) == 0 {
		entries = store.List()
	} else {
		target, err := resolveServer(cfg, args[0], "")
		if err != nil {
			return err
		}
		entries = store.ListByHost(target.Server.URL)
	}

	if len(entries) == 0 {
		fmt.Fprintf(out, "%s\n", text.FgYellow.Sprint("No stored tokens"))
		authPrintln(out, "\nTo authenticate, run:")
		authPrintln(out, "  mcpauth auth login <server>")
		return nil
	}

	renderTokenTable(out, entries)
	return nil
}

// renderTokenTable writes one row per stored token.
func renderTokenTable(w io.Writer, entries []oauth.TokenEntry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("KEY"),
		text.FgHiCyan.Sprint("STATUS"),
		text.FgHiCyan.Sprint("EXPIRES"),
		text.FgHiCyan.Sprint("REFRESH"),
		text.FgHiCyan.Sprint("CLIENT"),
	})

	for _, entry := range entries {
		t.AppendRow(table.Row{
			entry.Key,
			tokenStatus(entry.Token),
			tokenExpiry(entry.Token),
			refreshStatus(entry.Token),
			clientID(entry.Token),
		})
	}

	t.Render()
}

func tokenStatus(token *pkgoauth.TokenData) string {
	switch {
	case token == nil || token.AccessToken == "":
		return text.FgRed.Sprint("Invalid")
	case token.IsExpired():
		return text.FgYellow.Sprint("Expired")
	default:
		return text.FgGreen.Sprint("Authenticated")
	}
}

func tokenExpiry(token *pkgoauth.TokenData) string {
	expiry := token.Expiry()
	if expiry.IsZero() {
		return text.FgHiBlack.Sprint("unknown")
	}
	return formatExpiryWithDirection(expiry)
}

func refreshStatus(token *pkgoauth.TokenData) string {
	if token != nil && token.RefreshToken != "" {
		return text.FgGreen.Sprint("Available")
	}
	return text.FgHiBlack.Sprint("-")
}

func clientID(token *pkgoauth.TokenData) string {
	if token == nil || token.ClientInfo == nil || token.ClientInfo.ClientID == "" {
		return text.FgHiBlack.Sprint("-")
	}
	return token.ClientInfo.ClientID
}
