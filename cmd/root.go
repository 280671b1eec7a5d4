package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "blogpub",
	Short: "Generate scheduled blog drafts and publish them to an external API",
	Long: `Turns queued topics into generated blog drafts on a schedule, within each
account's monthly limit, and publishes approved drafts through the account's
configured curl command.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("BLOGPUB_CONFIG"), "path to config.yaml")
}

// Execute runs the root command. Called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
