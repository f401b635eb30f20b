package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"mailtracker/models"
	"mailtracker/records"
	"mailtracker/service"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printTrackingResult(r *service.TrackingResult) {
	fmt.Printf("Tracking ID: %s\n", r.Record.TrackingID)
	fmt.Printf("To:          %s\n", r.Record.To)
	fmt.Printf("Subject:     %s\n", r.Record.Subject)
	fmt.Printf("Pixel URL:   %s\n", r.PixelURL)
	if !r.Polling {
		fmt.Println("Polling:     already running")
	}
	fmt.Println()
	fmt.Println(r.Body)
}

func printRecordTable(recs []*models.TrackingRecord) {
	if len(recs) == 0 {
		fmt.Println("No tracked emails yet.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRACKING ID\tSTATUS\tTO\tSUBJECT\tSENT\tOPENED")
	for _, r := range recs {
		opened := "-"
		if r.OpenedAt != nil {
			opened = r.OpenedAt.Local().Format("2006-01-02 15:04:05")
		}
		subject := r.Subject
		if subject == "" {
			subject = "(no subject)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.TrackingID, r.Status, r.To, subject,
			r.SentAt.Local().Format("2006-01-02 15:04:05"), opened)
	}
	w.Flush()
}

func printStats(s records.Stats) {
	fmt.Printf("Total:     %d\n", s.Total)
	fmt.Printf("Opened:    %d\n", s.Opened)
	fmt.Printf("Open rate: %d%%\n", s.OpenRate)
	fmt.Printf("Today:     %d\n", s.Today)
}
