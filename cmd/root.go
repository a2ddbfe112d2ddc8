package cmd

import (
	"os"

	"mcpauth/internal/config"
	"mcpauth/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates any failure (command failed, invalid arguments, auth failed).
	ExitCodeError = 1
)

// Global flags
var (
	configDir string
	debug     bool
	logLevel  string
	quiet     bool
)

// rootCmd represents the base command for the mcpauth application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mcpauth",
	Short: "Authenticate to OAuth-protected MCP servers",
	Long: `mcpauth obtains and manages OAuth 2.1 tokens for remote MCP servers.

It discovers the authorization server of an MCP server, registers a client
when the server supports dynamic registration, and runs the authorization
code flow with PKCE in your browser. Tokens are stored in mcp-oauth.json in
the configuration directory.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcpauth version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

// initLogging routes library logs to stderr at the level chosen by
// --log-level. --debug overrides it.
func initLogging() {
	logging.InitForCLI(resolveLogLevel(), os.Stderr)
}

func resolveLogLevel() logging.LogLevel {
	if debug {
		return logging.LevelDebug
	}
	return logging.ParseLevel(logLevel)
}

// resolveConfigDir returns --config-dir, or the default directory.
func resolveConfigDir() (string, error) {
	if configDir != "" {
		return configDir, nil
	}
	return config.ResolveConfigDir()
}

func init() {
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Configuration directory (default $MCPAUTH_CONFIG_DIR or ~/.config/mcpauth)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
}
