package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailtracker/server"
	"mailtracker/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tracking pixel and the status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.Server.Port = port
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		history := tracker.NewHistory(tracker.NewClassifier(cfg.Tracking.DebounceWindow), tracker.SystemClock)
		srv := server.NewServer(cfg, history, log)

		log.Info("configuration loaded",
			zap.String("env", cfg.App.Env),
			zap.String("base_url", cfg.GetBaseURL("")))
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("port", "", "listen port, overrides server.port")
}
