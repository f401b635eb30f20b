package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailtracker/idgen"
	"mailtracker/metrics"
	"mailtracker/models"
	"mailtracker/utils"
)

// Notifier raises the user-visible "opened" notice for a record.
type Notifier interface {
	NotifyOpened(ctx context.Context, rec *models.TrackingRecord) error
}

// Lifecycle creates records at send time and resolves them on first open.
type Lifecycle struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewLifecycle(store Store, notifier Notifier, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func (l *Lifecycle) Store() Store {
	return l.store
}

// Create mints a tracking id and persists a record in the sent state.
func (l *Lifecycle) Create(ctx context.Context, to, subject, platform string) (*models.TrackingRecord, error) {
	id, err := idgen.NewTrackingID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate tracking ID: %w", err)
	}
	if platform == "" {
		platform = "Gmail"
	}

	rec := &models.TrackingRecord{
		TrackingID: id,
		To:         to,
		Subject:    subject,
		Platform:   platform,
		SentAt:     l.now().UTC(),
		Status:     models.StatusSent,
	}
	if err := l.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save tracking record: %w", err)
	}

	l.logger.Info("tracking started",
		zap.String("tracking_id", id),
		zap.String("to", utils.MaskRecipients(to)),
		zap.String("platform", platform))
	return rec, nil
}

// MarkOpened moves a sent record to opened and notifies once. Already-opened
// records are left untouched. A missing record returns ErrNotFound.
func (l *Lifecycle) MarkOpened(ctx context.Context, trackingID string, openedAt time.Time) error {
	rec, won, err := l.store.MarkOpened(ctx, trackingID, openedAt)
	if errors.Is(err, ErrNotFound) {
		l.logger.Warn("open confirmed for unknown tracking record", zap.String("tracking_id", trackingID))
		return err
	}
	if err != nil {
		return fmt.Errorf("mark tracking record opened: %w", err)
	}

	if !won {
		l.logger.Debug("tracking record already opened", zap.String("tracking_id", trackingID))
		return nil
	}

	l.logger.Info("🎉 email opened",
		zap.String("tracking_id", trackingID),
		zap.String("to", utils.MaskRecipients(rec.To)),
		zap.Time("opened_at", *rec.OpenedAt))

	if err := l.notifier.NotifyOpened(ctx, rec); err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		// the record is already resolved; a lost notice is not retried
		l.logger.Error("failed to send open notification", zap.String("tracking_id", trackingID), zap.Error(err))
		return nil
	}
	metrics.Notifications.WithLabelValues("sent").Inc()
	return nil
}

// Discard removes a record whose tracking was switched off before sending.
func (l *Lifecycle) Discard(ctx context.Context, trackingID string) error {
	return l.store.Delete(ctx, trackingID)
}

// Clear removes every tracking record and returns how many were removed.
func (l *Lifecycle) Clear(ctx context.Context) (int, error) {
	all, err := l.store.List(ctx)
	if err != nil {
		return 0, err
	}
	ids := make([]string, len(all))
	for i, rec := range all {
		ids[i] = rec.TrackingID
	}
	if err := l.store.Delete(ctx, ids...); err != nil {
		return 0, err
	}
	return len(ids), nil
}
