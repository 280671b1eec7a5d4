package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"auto_blog_publisher/trigger"
)

func init() {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Queue a due pass on NATS at a fixed interval",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.NATS.URL == "" {
				return errors.New("tick requires nats.url")
			}
			if interval <= 0 {
				interval = cfg.NATS.TickInterval
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			t, err := trigger.Connect(cfg.NATS.URL, cfg.NATS.AckWait, logger)
			if err != nil {
				return err
			}
			defer t.Close()

			logger.Info("ticking", slog.Duration("interval", interval))
			if err := t.Tick(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "tick interval (overrides nats.tick_interval)")

	rootCmd.AddCommand(cmd)
}
