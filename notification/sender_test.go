package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"mailtracker/config"
	"mailtracker/models"
)

func testRecord() *models.TrackingRecord {
	sent := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	opened := sent.Add(time.Hour)
	return &models.TrackingRecord{
		TrackingID: "track_abc",
		To:         "bob@example.com",
		Subject:    "Lunch?",
		Platform:   "Gmail",
		SentAt:     sent,
		Opened:     true,
		OpenedAt:   &opened,
		Status:     models.StatusOpened,
	}
}

func smtpConfig() *config.Config {
	cfg := config.Default()
	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.From = "tracker@example.com"
	cfg.Notify.Email = "me@example.com"
	return cfg
}

func TestSender_NotifyOpened(t *testing.T) {
	s := NewSender(smtpConfig())
	var sent *email.Email
	s.send = func(e *email.Email) error {
		sent = e
		return nil
	}

	require.NoError(t, s.NotifyOpened(context.Background(), testRecord()))
	require.NotNil(t, sent)
	assert.Equal(t, []string{"me@example.com"}, sent.To)
	assert.Equal(t, "tracker@example.com", sent.From)
	assert.Equal(t, "📧 Email Opened: Lunch?", sent.Subject)
	assert.Contains(t, string(sent.HTML), "bob@example.com")
	assert.Contains(t, string(sent.HTML), "track_abc")
}

func TestSender_NotConfigured(t *testing.T) {
	s := NewSender(config.Default())
	err := s.NotifyOpened(context.Background(), testRecord())
	assert.True(t, errors.Is(err, ErrNotConfigured))

	err = s.SendEmail(context.Background(), []string{"bob@example.com"}, "hi", "<p>hi</p>")
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestSender_RespectsContext(t *testing.T) {
	s := NewSender(smtpConfig())
	release := make(chan struct{})
	s.send = func(*email.Email) error {
		<-release
		return nil
	}
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.SendEmail(ctx, []string{"bob@example.com"}, "hi", "<p>hi</p>")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestLogNotifierAndMulti(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rec := testRecord()
	rec.Subject = ""

	failing := NotifierFunc(func(context.Context, *models.TrackingRecord) error { return errors.New("smtp down") })
	m := Multi{NewLogNotifier(zap.New(core)), failing}

	err := m.NotifyOpened(context.Background(), rec)
	assert.EqualError(t, err, "smtp down")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "🎉 Email Opened! bob@example.com opened: your email", logs.All()[0].Message)
}
