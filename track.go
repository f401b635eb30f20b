package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailtracker/models"
	"mailtracker/poller"
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Start tracking an outgoing email and wait for the first open",
	Long: `Creates a tracking record, prints the pixel to embed (or sends the
message itself with --send) and polls the tracking server until the
recipient opens it or the polling window ends.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetStringSlice("to")
		subject, _ := cmd.Flags().GetString("subject")
		platform, _ := cmd.Flags().GetString("platform")
		body, _ := cmd.Flags().GetString("body")
		send, _ := cmd.Flags().GetBool("send")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		t, err := buildTracking(ctx)
		if err != nil {
			return err
		}

		result, err := t.service.StartTracking(ctx, &models.EmailRequest{
			To:       to,
			Subject:  subject,
			Body:     body,
			Platform: platform,
			Send:     send,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			printJSON(result)
		} else {
			printTrackingResult(result)
		}

		id := result.Record.TrackingID
		select {
		case <-t.scheduler.Done(id):
		case <-ctx.Done():
			log.Info("interrupted, tracking stays resumable with watch", zap.String("tracking_id", id))
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.scheduler.Shutdown(shutdownCtx); err != nil {
			log.Warn("poller did not stop cleanly", zap.Error(err))
		}

		switch t.scheduler.State(id) {
		case poller.Confirmed:
			fmt.Printf("✅ %s was opened\n", id)
		case poller.Expired:
			fmt.Printf("⏰ %s was not opened within %s\n", id, cfg.PollingHorizon())
		}
		return nil
	},
}

func init() {
	trackCmd.Flags().StringSlice("to", nil, "recipient address (repeatable)")
	trackCmd.Flags().String("subject", "", "message subject")
	trackCmd.Flags().String("platform", "", "mail platform label, defaults to Gmail")
	trackCmd.Flags().String("body", "", "HTML body, used with --send")
	trackCmd.Flags().Bool("send", false, "send the message through the configured SMTP account")
	_ = trackCmd.MarkFlagRequired("to")
}
