package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "repoctl",
		Short: "Publish package repositories and migrate their metadata",
		Long: `Repoctl drives a repository manager through release tasks and keeps
published repositories consistent.

Commands:
  - publish:   create, populate, snapshot and publish repositories from a
               task file, rolling back on failure
  - published: list the snapshots currently published
  - migrate:   convert published repositories to combined metadata, swap
               them into place and revert the swap`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	rootCmd.AddCommand(NewPublishCmd())
	rootCmd.AddCommand(NewPublishedCmd())
	rootCmd.AddCommand(NewMigrateCmd())

	return rootCmd
}
