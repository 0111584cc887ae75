package main

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/m0o0scar/nenya/internal/config"
	"github.com/m0o0scar/nenya/internal/logging"
	"github.com/spf13/cobra"
)

// validFormats lists the output formats for report commands.
var validFormats = []string{"yaml", "json"}

// rootOptions holds global flags and the state shared by subcommands
// once PersistentPreRunE has run.
type rootOptions struct {
	Format string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "nenya",
		Short: "Mirror Raindrop collections into local bookmarks and save browser sessions",
		Long: `nenya keeps a local bookmark folder tree in step with your Raindrop
collections, and saves the open browser windows, tabs and tab groups of
this device to a Raindrop collection so they can be restored later.

Configuration comes from the environment or a .env file.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			opts.cfg = cfg
			opts.logger = logging.NewLogger(cfg.Environment, cfg.LogLevel)

			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Format, "format", "o", "yaml", "output format (yaml|json)")

	cmd.AddCommand(newBookmarksCommand(opts))
	cmd.AddCommand(newSessionsCommand(opts))
	cmd.AddCommand(newDaemonCommand(opts))

	return cmd
}
