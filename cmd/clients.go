package cmd

import (
	"context"
	"errors"

	"loopauth/internal/loopback"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newClientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "List the registered client ids and their callback ports",
		Long: `List the client registrations in the order login tries them.

Each client id is accepted by the identity provider only with its own local
callback port. The AVAILABLE column shows whether that port can be bound
right now.`,
		Args:         cobra.NoArgs,
		RunE:         runClients,
		SilenceUsage: true,
	}
}

func runClients(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Registrations.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Ports are distinct after validation, so probing them at once is safe.
	status := make([]string, len(cfg.Registrations))
	var g errgroup.Group
	for i, reg := range cfg.Registrations {
		g.Go(func() error {
			status[i] = portStatus(ctx, reg.Port)
			return nil
		})
	}
	_ = g.Wait()

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "CLIENT ID", "PORT", "REDIRECT URI", "AVAILABLE"})
	for i, reg := range cfg.Registrations {
		t.AppendRow(table.Row{i + 1, reg.ClientID, reg.Port, reg.RedirectURI(cfg.CallbackHost), status[i]})
	}
	t.Render()
	return nil
}

// portStatus probes a port with a throwaway listener.
func portStatus(ctx context.Context, port int) string {
	l := loopback.New(nil)
	_, err := l.Bind(ctx, []int{port})
	_ = l.Close()

	switch {
	case err == nil:
		return text.FgGreen.Sprint("yes")
	case errors.Is(err, loopback.ErrPortsExhausted):
		return text.FgYellow.Sprint("in use")
	default:
		return text.FgRed.Sprint("error")
	}
}
