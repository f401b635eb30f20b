package tracker

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"mailtracker/config"
	"mailtracker/metrics"
	"mailtracker/models"
	"mailtracker/utils"
)

// accessHistory is the part of History the tracker drives.
type accessHistory interface {
	RecordAccess(trackingID string, meta models.RequestMetadata) Classification
	Events(trackingID string) []models.ReceiverOpenEvent
}

type Tracker struct {
	history     accessHistory
	logger      *zap.Logger
	maxIDLength int
}

var pixelTemplate = template.Must(template.New("pixel").Parse(
	`<img src="{{.BaseURL}}/track/{{.TrackingID}}" width="1" height="1" alt="" style="display:none;border:0;width:1px;height:1px;">`,
))

func NewTracker(cfg *config.Config, history *History, logger *zap.Logger) *Tracker {
	return &Tracker{
		history:     history,
		logger:      logger,
		maxIDLength: cfg.Tracking.MaxIDLength,
	}
}

// PixelURL is the address embedded in the tracked message.
func PixelURL(baseURL, trackingID string) string {
	return fmt.Sprintf("%s/track/%s", baseURL, trackingID)
}

// EmbedTrackingPixel appends the invisible pixel to an HTML body.
func EmbedTrackingPixel(emailContent, trackingID, baseURL string) (string, error) {
	data := struct {
		BaseURL    string
		TrackingID string
	}{
		BaseURL:    baseURL,
		TrackingID: trackingID,
	}

	var pixelHTML bytes.Buffer
	if err := pixelTemplate.Execute(&pixelHTML, data); err != nil {
		return "", fmt.Errorf("failed to execute tracking template: %w", err)
	}

	return emailContent + pixelHTML.String(), nil
}

// TrackEmailOpen records the fetch and always answers with the pixel.
func (t *Tracker) TrackEmailOpen(w http.ResponseWriter, r *http.Request, trackingID string) {
	metrics.PixelFetches.Inc()

	if utils.ValidTrackingID(trackingID, t.maxIDLength) {
		if _, err := t.recordAccess(trackingID, utils.RequestMetadata(r)); err != nil {
			metrics.ClassifierPanics.Inc()
			t.logger.Error("classification failed, serving pixel anyway",
				zap.String("tracking_id", trackingID), zap.Error(err))
		}
	} else {
		t.logger.Debug("ignoring malformed tracking id", zap.Int("length", len(trackingID)))
	}

	ServePixel(w)
}

func (t *Tracker) recordAccess(trackingID string, meta models.RequestMetadata) (c Classification, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("classifier panic: %v", rec)
		}
	}()

	c = t.history.RecordAccess(trackingID, meta)
	metrics.Decisions.WithLabelValues(c.Decision.String(), string(c.Reason)).Inc()

	fields := []zap.Field{
		zap.String("tracking_id", trackingID),
		zap.Stringer("decision", c.Decision),
		zap.String("reason", string(c.Reason)),
		zap.String("user_agent", meta.UserAgent),
		zap.String("referer", meta.Referer),
		zap.String("ip", meta.SourceIP),
	}
	if c.Decision == ReceiverOpen {
		t.logger.Info("📧 receiver open recorded", append(fields,
			zap.Int("confidence", c.Confidence),
			zap.Bool("image_proxy", c.ImageProxy),
			zap.Duration("delay", c.Delay))...)
	} else {
		t.logger.Debug("pixel fetch ignored", fields...)
	}
	return c, nil
}

// GetTrackingStatus projects the history of one id. Unknown ids report no opens.
func (t *Tracker) GetTrackingStatus(trackingID string) models.TrackingStatus {
	events := t.history.Events(trackingID)
	return models.TrackingStatus{
		TrackingID:   trackingID,
		Opened:       len(events) > 0,
		OpenCount:    len(events),
		Events:       events,
		ReceiverOnly: true,
	}
}

var gifData = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61,
	0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0xff, 0xff, 0xff, 0x00, 0x00,
	0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// ServePixel writes the 1x1 transparent GIF with caching disabled.
func ServePixel(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "image/gif")
	h.Set("Content-Length", strconv.Itoa(len(gifData)))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	w.Write(gifData)
}
