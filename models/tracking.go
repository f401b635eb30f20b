package models

import "time"

// RequestMetadata is what a pixel fetch tells us about its origin.
// Absent headers are empty strings.
type RequestMetadata struct {
	UserAgent string `json:"userAgent"`
	Referer   string `json:"referer"`
	SourceIP  string `json:"sourceIp"`
}

// ReceiverOpenEvent is appended once per tracking id, on the first fetch
// classified as a recipient open.
type ReceiverOpenEvent struct {
	ID                  string    `json:"id"`
	TrackingID          string    `json:"trackingId"`
	Timestamp           time.Time `json:"timestamp"`
	UserAgent           string    `json:"userAgent"`
	SourceIP            string    `json:"sourceIp"`
	Referer             string    `json:"referer"`
	DelaySinceFirstSeen int64     `json:"delaySinceFirstSeen"` // milliseconds
	ConfidenceScore     int       `json:"confidenceScore"`
	IsKnownImageProxy   bool      `json:"isKnownImageProxy"`
	DeviceType          string    `json:"deviceType"`
	Browser             string    `json:"browser"`
	OS                  string    `json:"os"`
}

type TrackingStatus struct {
	TrackingID   string              `json:"trackingId"`
	Opened       bool                `json:"opened"`
	OpenCount    int                 `json:"openCount"`
	Events       []ReceiverOpenEvent `json:"events"`
	ReceiverOnly bool                `json:"receiverOnly"`
}

// FirstOpen returns the earliest recorded event.
func (s *TrackingStatus) FirstOpen() (ReceiverOpenEvent, bool) {
	if len(s.Events) == 0 {
		return ReceiverOpenEvent{}, false
	}
	first := s.Events[0]
	for _, e := range s.Events[1:] {
		if e.Timestamp.Before(first.Timestamp) {
			first = e
		}
	}
	return first, true
}
