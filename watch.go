package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Resume polling for every stored email that is not opened yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		t, err := buildTracking(ctx)
		if err != nil {
			return err
		}

		ids, err := t.service.Resume(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("Nothing to watch.")
			return nil
		}
		fmt.Printf("Watching %d email(s)...\n", len(ids))

	wait:
		for _, id := range ids {
			select {
			case <-t.scheduler.Done(id):
			case <-ctx.Done():
				break wait
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.scheduler.Shutdown(shutdownCtx); err != nil {
			log.Warn("poller did not stop cleanly", zap.Error(err))
		}

		for _, id := range ids {
			fmt.Printf("%s\t%s\n", id, t.scheduler.State(id))
		}
		return nil
	},
}
