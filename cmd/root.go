package cmd

import (
	"errors"
	"os"

	"loopauth/internal/capture"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAborted indicates the sign-in was cancelled or timed out.
	ExitCodeAborted = 2
	// ExitCodeAuthFailed indicates the provider round trip did not yield a token.
	ExitCodeAuthFailed = 3
	// ExitCodeNoPort indicates every registered callback port was in use.
	ExitCodeNoPort = 4
)

// rootCmd represents the base command for the loopauth application.
var rootCmd = &cobra.Command{
	Use:   "loopauth",
	Short: "Obtain an OAuth access token through the system browser",
	Long: `loopauth runs the OAuth2 implicit grant against an identity provider
using the system browser and a short-lived local callback server, then prints
the resulting access token.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage:      true,
	PersistentPreRunE: initLogging,
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
	rootCmd.SetVersionTemplate(`{{printf "loopauth version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, capture.ErrBindExhausted):
		return ExitCodeNoPort
	case capture.IsAborted(err):
		return ExitCodeAborted
	case capture.IsAuthorizationFailure(err):
		return ExitCodeAuthFailed
	default:
		return ExitCodeError
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Directory containing config.yaml (default $HOME/.config/loopauth)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newClientsCmd())
}
