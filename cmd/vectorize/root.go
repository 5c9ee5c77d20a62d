package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dshills/vectorize/internal/config"
	"github.com/dshills/vectorize/internal/contextutil"
)

// rootOptions holds the flags that locate configuration sources
type rootOptions struct {
	settingsFile string
	envFile      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "vectorize",
		Short: "Incrementally index a directory of text files into a vector store",
		Long: `Walk a directory, split its text files into overlapping chunks, embed them
and upsert them into a vector store. A content ledger in the store directory
records what was indexed, so later runs only touch files that changed.

Configuration is read, from lowest to highest precedence, from built-in
defaults, ~/.config/ghostwraiter/settings.json, a .env file, VECTORIZE_*
environment variables and flags.

Without a subcommand vectorize runs "index".`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, opts, "")
		},
	}

	flags := cmd.PersistentFlags()
	config.RegisterFlags(flags)
	flags.StringVar(&opts.settingsFile, "settings", "", "Settings file (default: "+config.DefaultSettingsPath()+")")
	flags.StringVar(&opts.envFile, "env_file", ".env", "Dotenv file to load")

	cmd.AddCommand(newIndexCmd(opts), newCheckCmd(opts), newServeCmd(opts), newVersionCmd())
	return cmd
}

// loadConfig resolves the configuration for cmd and builds the stderr logger
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.Flags(), config.Sources{
		SettingsFile: opts.settingsFile,
		EnvFile:      opts.envFile,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, contextutil.NewLogger(cmd.ErrOrStderr(), cfg.Verbose), nil
}
