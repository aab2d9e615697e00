package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lettuce",
		Short: "Local data engine for character chat: storage, memory, device sync",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug detail to stderr")

	cmd.AddCommand(initCmd())
	cmd.AddCommand(syncCmd())
	cmd.AddCommand(memoryCmd())
	cmd.AddCommand(sessionsCmd())
	cmd.AddCommand(charactersCmd())
	cmd.AddCommand(modelsCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(migrateCmd())
	cmd.AddCommand(doctorCmd())
	return cmd
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
