package notification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mailtracker/models"
)

type Notifier interface {
	NotifyOpened(ctx context.Context, rec *models.TrackingRecord) error
}

// Message is the one-line notice shown to the sender.
func Message(rec *models.TrackingRecord) string {
	return fmt.Sprintf("%s opened: %s", rec.To, subjectOrDefault(rec.Subject))
}

// LogNotifier surfaces the notice on the process log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyOpened(_ context.Context, rec *models.TrackingRecord) error {
	n.logger.Info("🎉 Email Opened! "+Message(rec),
		zap.String("tracking_id", rec.TrackingID),
		zap.String("platform", rec.Platform))
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) NotifyOpened(ctx context.Context, rec *models.TrackingRecord) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyOpened(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type NotifierFunc func(ctx context.Context, rec *models.TrackingRecord) error

func (f NotifierFunc) NotifyOpened(ctx context.Context, rec *models.TrackingRecord) error {
	return f(ctx, rec)
}
