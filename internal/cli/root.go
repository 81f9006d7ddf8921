package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Root builds the pgembed command tree.
func Root() *cobra.Command {
	var configPath string
	var verbose bool

	cmd := &cobra.Command{
		Use:           "pgembed",
		Short:         "Run embedded PostgreSQL instances",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pgembed.yaml", "Path to the configuration file")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(instanceCmd(&configPath))
	cmd.AddCommand(testCmd(&configPath))
	return cmd
}
