package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mailtracker/records"
)

var stopCmd = &cobra.Command{
	Use:   "stop <tracking-id>...",
	Short: "Stop tracking emails and drop their records",
	Long: `Cancels polling and deletes the tracking record, as when tracking is
switched off before the message goes out. A poller still running in another
process finds no record on confirmation and raises no notification.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		t, err := buildTracking(ctx)
		if err != nil {
			return err
		}

		for _, id := range args {
			if _, err := t.lifecycle.Store().Get(ctx, id); errors.Is(err, records.ErrNotFound) {
				fmt.Printf("%s\tnot tracked\n", id)
				continue
			} else if err != nil {
				return err
			}
			if err := t.service.StopTracking(ctx, id); err != nil {
				return fmt.Errorf("stop %s: %w", id, err)
			}
			fmt.Printf("%s\tstopped\n", id)
		}
		return nil
	},
}
