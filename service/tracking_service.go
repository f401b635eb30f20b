package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailtracker/config"
	"mailtracker/models"
	"mailtracker/records"
	"mailtracker/tracker"
	"mailtracker/utils"
)

// Mailer delivers the tracked message when the service sends it itself.
type Mailer interface {
	SendEmail(ctx context.Context, to []string, subject, body string) error
}

// Poller is the polling scheduler as the service drives it.
type Poller interface {
	Start(trackingID string) bool
	StartWithBudget(trackingID string, maxPolls int) bool
	Cancel(trackingID string) bool
}

type TrackingService struct {
	config    *config.Config
	lifecycle *records.Lifecycle
	poller    Poller
	mailer    Mailer
	logger    *zap.Logger
	now       func() time.Time
}

type TrackingResult struct {
	Record   *models.TrackingRecord `json:"record"`
	PixelURL string                 `json:"pixelUrl"`
	Body     string                 `json:"body"`
	Polling  bool                   `json:"polling"`
}

func NewTrackingService(cfg *config.Config, lc *records.Lifecycle, p Poller, m Mailer, logger *zap.Logger) *TrackingService {
	return &TrackingService{
		config:    cfg,
		lifecycle: lc,
		poller:    p,
		mailer:    m,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *TrackingService) pixelBaseURL() string {
	if s.config.App.BaseURL == "" && s.config.Poller.ServerURL != "" {
		return strings.TrimRight(s.config.Poller.ServerURL, "/")
	}
	return s.config.GetBaseURL("")
}

// StartTracking mints a tracking id, stores the sent record, embeds the
// pixel and starts polling. With req.Send the message is also delivered.
func (s *TrackingService) StartTracking(ctx context.Context, req *models.EmailRequest) (*TrackingResult, error) {
	if len(req.To) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	for _, addr := range req.To {
		if !utils.ValidateEmail(addr) {
			return nil, fmt.Errorf("invalid email: %s", addr)
		}
	}

	rec, err := s.lifecycle.Create(ctx, strings.Join(req.To, ","), req.Subject, req.Platform)
	if err != nil {
		return nil, err
	}

	baseURL := s.pixelBaseURL()
	trackedBody, err := tracker.EmbedTrackingPixel(req.Body, rec.TrackingID, baseURL)
	if err != nil {
		s.discard(rec.TrackingID)
		return nil, fmt.Errorf("failed to embed tracking pixel: %w", err)
	}

	if req.Send {
		emailCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := s.mailer.SendEmail(emailCtx, req.To, req.Subject, trackedBody); err != nil {
			s.discard(rec.TrackingID)
			return nil, fmt.Errorf("failed to send email: %w", err)
		}
	}

	return &TrackingResult{
		Record:   rec,
		PixelURL: tracker.PixelURL(baseURL, rec.TrackingID),
		Body:     trackedBody,
		Polling:  s.poller.Start(rec.TrackingID),
	}, nil
}

// StopTracking is the toggle-off path: polling stops and the record is dropped.
func (s *TrackingService) StopTracking(ctx context.Context, trackingID string) error {
	s.poller.Cancel(trackingID)
	return s.lifecycle.Discard(ctx, trackingID)
}

// Resume restarts polling for stored records that are still unopened and
// inside the polling horizon, each with only the polls its window has left.
// It returns the ids it started.
func (s *TrackingService) Resume(ctx context.Context) ([]string, error) {
	all, err := s.lifecycle.Store().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tracking records: %w", err)
	}

	now := s.now()
	var started []string
	for _, rec := range all {
		if rec.Opened {
			continue
		}
		remaining := s.remainingPolls(rec.SentAt, now)
		if remaining <= 0 {
			continue
		}
		if s.poller.StartWithBudget(rec.TrackingID, remaining) {
			started = append(started, rec.TrackingID)
		}
	}
	return started, nil
}

func (s *TrackingService) remainingPolls(sentAt, now time.Time) int {
	elapsed := max(now.Sub(sentAt), 0)
	return s.config.Poller.MaxPolls - int(elapsed/s.config.Poller.Interval)
}

func (s *TrackingService) discard(trackingID string) {
	if err := s.lifecycle.Discard(context.Background(), trackingID); err != nil {
		s.logger.Warn("failed to discard tracking record", zap.String("tracking_id", trackingID), zap.Error(err))
	}
}
