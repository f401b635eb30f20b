package models

import "time"

type RecordStatus string

const (
	StatusSent   RecordStatus = "sent"
	StatusOpened RecordStatus = "opened"
)

// TrackingRecord is the sender-side record of one tracked message.
// OpenedAt is set if and only if Opened is true, and neither changes after.
type TrackingRecord struct {
	TrackingID string       `json:"trackingId" validate:"required,max=128"`
	To         string       `json:"to" validate:"required"`
	Subject    string       `json:"subject"`
	Platform   string       `json:"platform"`
	SentAt     time.Time    `json:"sentAt" validate:"required"`
	Opened     bool         `json:"opened"`
	OpenedAt   *time.Time   `json:"openedAt,omitempty"`
	Status     RecordStatus `json:"status" validate:"oneof=sent opened"`
}

// EmailRequest starts tracking for an outgoing message.
type EmailRequest struct {
	To       []string `json:"to" binding:"required"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	Platform string   `json:"platform"`
	// Send delivers the message through the configured SMTP account with the
	// pixel embedded. Otherwise the caller embeds the returned snippet.
	Send bool `json:"send"`
}
