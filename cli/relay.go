package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/slighter12/graph-livesync/transport/relay"
)

// RelayOptions holds flags for the relay command.
type RelayOptions struct {
	*RootOptions
	Host string
	Port int
}

// NewRelayCommand creates the relay command.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the websocket relay editors and viewers connect to",
		Example: `  livesync relay
  livesync relay --port 9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "listen port (overrides config)")

	return cmd
}

func runRelay(cmd *cobra.Command, opts *RelayOptions) error {
	cfg := opts.Config.Relay
	if opts.Host != "" {
		cfg.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.Port = opts.Port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return relay.NewServer(cfg).Start(ctx)
}
