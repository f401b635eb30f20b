package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"

	"mailtracker/config"
	"mailtracker/models"
)

var ErrNotConfigured = errors.New("smtp is not configured")

var notificationTemplate = template.Must(template.New("notification").Parse(`<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;">
<h2>🎉 Email Opened!</h2>
<p><strong>{{.To}}</strong> opened: {{.Subject}}</p>
<table>
<tr><td>Sent</td><td>{{.SentAt}}</td></tr>
<tr><td>Opened</td><td>{{.OpenedAt}}</td></tr>
<tr><td>Platform</td><td>{{.Platform}}</td></tr>
<tr><td>Tracking ID</td><td>{{.TrackingID}}</td></tr>
</table>
</body></html>`))

// Sender delivers mail through the configured SMTP account.
type Sender struct {
	config *config.Config
	send   func(e *email.Email) error
}

func NewSender(cfg *config.Config) *Sender {
	s := &Sender{config: cfg}
	s.send = s.sendSMTP
	return s
}

func (s *Sender) Configured() bool {
	return s.config.SMTP.Host != "" && s.config.SMTP.From != ""
}

func (s *Sender) sendSMTP(e *email.Email) error {
	auth := smtp.PlainAuth("", s.config.SMTP.Username, s.config.SMTP.Password, s.config.SMTP.Host)
	addr := fmt.Sprintf("%s:%d", s.config.SMTP.Host, s.config.SMTP.Port)
	return e.Send(addr, auth)
}

func (s *Sender) deliver(ctx context.Context, e *email.Email) error {
	if !s.Configured() {
		return ErrNotConfigured
	}

	done := make(chan error, 1)
	go func() { done <- s.send(e) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to send email: %w", ctx.Err())
	}
}

// NotifyOpened mails the open notice to notify.email.
func (s *Sender) NotifyOpened(ctx context.Context, rec *models.TrackingRecord) error {
	if s.config.Notify.Email == "" {
		return fmt.Errorf("notify.email is empty: %w", ErrNotConfigured)
	}

	body, err := renderNotification(rec)
	if err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = s.config.SMTP.From
	e.To = []string{s.config.Notify.Email}
	e.Subject = fmt.Sprintf("📧 Email Opened: %s", subjectOrDefault(rec.Subject))
	e.HTML = body
	return s.deliver(ctx, e)
}

// SendEmail delivers an HTML message, typically one with the pixel embedded.
func (s *Sender) SendEmail(ctx context.Context, to []string, subject, body string) error {
	e := email.NewEmail()
	e.From = s.config.SMTP.From
	e.To = to
	e.Subject = subject
	e.HTML = []byte(body)
	return s.deliver(ctx, e)
}

func renderNotification(rec *models.TrackingRecord) ([]byte, error) {
	openedAt := ""
	if rec.OpenedAt != nil {
		openedAt = rec.OpenedAt.Format(time.RFC1123)
	}
	data := map[string]interface{}{
		"To":         rec.To,
		"Subject":    subjectOrDefault(rec.Subject),
		"SentAt":     rec.SentAt.Format(time.RFC1123),
		"OpenedAt":   openedAt,
		"Platform":   rec.Platform,
		"TrackingID": rec.TrackingID,
	}

	var body bytes.Buffer
	if err := notificationTemplate.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return body.Bytes(), nil
}

func subjectOrDefault(subject string) string {
	if subject == "" {
		return "your email"
	}
	return subject
}
