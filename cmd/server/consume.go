package main

import (
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iliyamo/lmeve2/internal/logging"
	"github.com/iliyamo/lmeve2/internal/queue"
)

func newConsumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Append sync and session events from the broker to the events log",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadEnv()
			if err != nil {
				return err
			}
			defer app.closer.Close()
			if app.cfg.AMQPURL == "" {
				return errors.New("RABBITMQ_URL or AMQP_URL is required")
			}
			if err := os.MkdirAll(filepath.Dir(app.cfg.EventsLogFile), 0o755); err != nil {
				return err
			}
			out := logging.RotatingFile(app.cfg.EventsLogFile)
			defer out.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			c := &queue.Consumer{URL: app.cfg.AMQPURL, Queue: queue.EventsQueue, Out: out, Logger: app.logger}
			app.logger.Info("consuming events", "queue", c.Queue, "file", app.cfg.EventsLogFile)
			if err := c.Run(ctx); err != nil && !errors.Is(err, ctx.Err()) {
				return err
			}
			return nil
		},
	}
}
