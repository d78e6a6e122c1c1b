package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"loopauth/internal/capture"
	"loopauth/internal/config"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// openBrowser is replaced in tests.
var openBrowser capture.Opener = capture.OpenBrowser

// Login-specific flags
var (
	loginProvider  string
	loginScope     string
	loginTimeout   time.Duration
	loginNoBrowser bool
	loginJSON      bool
	loginQuiet     bool
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in through the browser and print an access token",
		Long: `Sign in to the configured identity provider using the system browser.

A local callback server is started on the first free registered port, the
authorization page is opened in the browser and the access token is printed
to stdout once the provider redirects back.

Examples:
  loopauth login                           # Sign in with the configured provider
  loopauth login --provider id.example.com # Override the provider
  loopauth login --no-browser              # Print the URL instead of opening it
  loopauth login --json                    # Print the token with its metadata`,
		Args:         cobra.NoArgs,
		RunE:         runLogin,
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&loginProvider, "provider", "", "Identity provider host or base URL (overrides config)")
	cmd.Flags().StringVar(&loginScope, "scope", "", "Scope to request (overrides config)")
	cmd.Flags().DurationVar(&loginTimeout, "timeout", 0, "How long to wait for the browser, 0 to wait forever (overrides config)")
	cmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	cmd.Flags().BoolVar(&loginJSON, "json", false, "Print the token as JSON")
	cmd.Flags().BoolVarP(&loginQuiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyLoginFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	ui := &loginUI{out: cmd.ErrOrStderr(), quiet: loginQuiet}
	defer ui.stop()

	opts := cfg.CaptureOptions()
	opts.Opener = ui.opener(loginNoBrowser, openBrowser)

	session := capture.Start(ctx, opts)
	_, err = session.Wait(context.Background())
	// Let the browser receive its result page before the process exits.
	<-session.Drained()
	if err != nil {
		ui.stop()
		return fmt.Errorf("sign-in failed: %w", err)
	}
	ui.stop()

	return printToken(cmd.OutOrStdout(), ui, session, loginJSON)
}

func applyLoginFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.Provider = loginProvider
	}
	if flags.Changed("scope") {
		cfg.Scope = loginScope
	}
	if flags.Changed("timeout") {
		cfg.Timeout = loginTimeout
	}
}

// loginUI owns stderr while a session is running. The spinner only starts
// once the URL has been handed off, so printed URLs are never overdrawn.
type loginUI struct {
	out   io.Writer
	quiet bool

	mu      sync.Mutex
	stopped bool
	spinner *spinner.Spinner
}

func (u *loginUI) opener(manual bool, open capture.Opener) capture.Opener {
	return func(authURL string) error {
		var err error
		if !manual {
			err = open(authURL)
		}
		switch {
		case manual || err != nil:
			fmt.Fprintf(u.out, "Open the following URL in your browser to sign in:\n\n  %s\n\n", authURL)
		case !u.quiet:
			fmt.Fprintln(u.out, "Opened your browser to sign in.")
		}
		u.startSpinner()
		return err
	}
}

func (u *loginUI) startSpinner() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.quiet || u.stopped || u.spinner != nil {
		return
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(u.out))
	s.Suffix = " Waiting for sign-in to complete in the browser..."
	s.Start()
	u.spinner = s
}

func (u *loginUI) stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stopped = true
	if u.spinner != nil {
		u.spinner.Stop()
		u.spinner = nil
	}
}

func (u *loginUI) printf(format string, args ...interface{}) {
	if u.quiet {
		return
	}
	fmt.Fprintf(u.out, format, args...)
}

// tokenOutput is the --json shape.
type tokenOutput struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type,omitempty"`
	Expiry      *time.Time `json:"expiry,omitempty"`
	ClientID    string     `json:"client_id"`
	Port        int        `json:"port"`
}

func printToken(w io.Writer, ui *loginUI, session *capture.Session, asJSON bool) error {
	token := session.Token()
	if token == nil {
		return fmt.Errorf("sign-in finished without a token")
	}
	reg, _ := session.Registration()

	ui.printf("%s Signed in using client %s on port %d.\n", text.FgGreen.Sprint("✓"), reg.ClientID, reg.Port)

	if !asJSON {
		_, err := fmt.Fprintln(w, token.AccessToken)
		return err
	}

	out := tokenOutput{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ClientID:    reg.ClientID,
		Port:        reg.Port,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		out.Expiry = &expiry
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
