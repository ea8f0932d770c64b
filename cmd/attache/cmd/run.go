package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/attachebot/attache/internal/app"
	"github.com/attachebot/attache/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the messaging representative",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		rt, err := app.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("starting attache", "mode", cfg.Mode)
		err = rt.Run(ctx)
		if err != nil && ctx.Err() == nil {
			return err
		}
		slog.Info("attache stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
