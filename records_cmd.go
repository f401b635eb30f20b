package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mailtracker/records"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect and manage tracking records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracking records, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("filter")
		filter, err := records.ParseFilter(raw)
		if err != nil {
			return err
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		recs, err := store.List(ctx)
		if err != nil {
			return err
		}

		recs = filter.Apply(recs, time.Now())
		if jsonOutput {
			printJSON(recs)
		} else {
			printRecordTable(recs)
		}
		return nil
	},
}

var recordsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show open statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		recs, err := store.List(ctx)
		if err != nil {
			return err
		}

		stats := records.Summarize(recs, time.Now())
		if jsonOutput {
			printJSON(stats)
		} else {
			printStats(stats)
		}
		return nil
	},
}

var recordsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every tracking record",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return errors.New("refusing to clear records without --yes")
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		n, err := records.NewLifecycle(store, buildNotifier(), log).Clear(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Cleared %d record(s).\n", n)
		return nil
	},
}

func init() {
	recordsListCmd.Flags().StringP("filter", "f", string(records.FilterAll), "all, opened, sent or today")
	recordsClearCmd.Flags().Bool("yes", false, "confirm deletion")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsStatsCmd)
	recordsCmd.AddCommand(recordsClearCmd)
}
