package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"auto_blog_publisher/server"
	"auto_blog_publisher/trigger"
)

func init() {
	var (
		addr    string
		consume bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := server.Options{CronSecret: a.cfg.Server.CronSecret, Logger: a.logger}
			if a.cfg.NATS.URL != "" {
				t, err := trigger.Connect(a.cfg.NATS.URL, a.cfg.NATS.AckWait, a.logger)
				if err != nil {
					return err
				}
				defer t.Close()
				opts.Trigger = t
				if consume {
					go func() {
						if err := t.Consume(ctx, a.scheduler); err != nil && !errors.Is(err, context.Canceled) {
							a.logger.Error("trigger consumer stopped", slog.Any("error", err))
						}
					}()
				}
			}

			gin.SetMode(gin.ReleaseMode)
			listen := a.cfg.Server.Addr
			if addr != "" {
				listen = addr
			}
			srv := &http.Server{
				Addr:              listen,
				Handler:           server.New(a.scheduler, a.drafts, a.store, opts).Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("starting web server", slog.String("addr", listen))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			a.logger.Info("shutting down web server")
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&consume, "consume", true, "run queued passes from NATS when nats.url is set")

	rootCmd.AddCommand(cmd)
}
