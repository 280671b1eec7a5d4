package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"auto_blog_publisher/scheduler"
)

func init() {
	var account string
	var count int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one due pass and print its summary",
		Long: `Runs a single due pass, or a bulk pass for one account with --account, and
prints the JSON summary. Meant to be invoked by an external cron.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var summary scheduler.Summary
			if account != "" {
				summary, err = a.scheduler.RunAccount(ctx, account, count)
			} else {
				summary, err = a.scheduler.RunDue(ctx)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "run a bulk pass for this account instead of the due pass")
	cmd.Flags().IntVar(&count, "count", 0, "topics to generate in a bulk pass (1-10)")

	rootCmd.AddCommand(cmd)
}
