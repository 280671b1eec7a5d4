package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "retry <topic-id>",
		Short: "Re-schedule a FAILED topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.scheduler.Retry(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Topic %s re-scheduled.\n", args[0])
			return nil
		},
	}

	rootCmd.AddCommand(cmd)
}
