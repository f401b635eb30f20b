// Package records keeps the sender-side tracking records and moves them
// from "sent" to "opened" exactly once.
package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"mailtracker/models"
)

var ErrNotFound = errors.New("tracking record not found")

// Store is the key-value persistence behind tracking records.
type Store interface {
	Get(ctx context.Context, trackingID string) (*models.TrackingRecord, error)
	Save(ctx context.Context, rec *models.TrackingRecord) error
	List(ctx context.Context) ([]*models.TrackingRecord, error)
	Delete(ctx context.Context, trackingIDs ...string) error
	// MarkOpened atomically moves a sent record to opened. It reports
	// whether this call made the transition; an already-opened record is
	// returned unchanged with false.
	MarkOpened(ctx context.Context, trackingID string, openedAt time.Time) (*models.TrackingRecord, bool, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field rules and the opened/openedAt invariant.
func Validate(rec *models.TrackingRecord) error {
	if err := validate.Struct(rec); err != nil {
		return fmt.Errorf("invalid tracking record: %w", err)
	}
	if rec.Opened != (rec.OpenedAt != nil) {
		return fmt.Errorf("invalid tracking record %s: opened and openedAt disagree", rec.TrackingID)
	}
	if rec.Opened != (rec.Status == models.StatusOpened) {
		return fmt.Errorf("invalid tracking record %s: status %q with opened=%t", rec.TrackingID, rec.Status, rec.Opened)
	}
	return nil
}

// MemoryStore keeps records for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.TrackingRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.TrackingRecord)}
}

func (s *MemoryStore) Get(_ context.Context, trackingID string) (*models.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[trackingID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", trackingID, ErrNotFound)
	}
	return clone(rec), nil
}

func (s *MemoryStore) Save(_ context.Context, rec *models.TrackingRecord) error {
	if err := Validate(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.TrackingID] = *clone(*rec)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.TrackingRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, clone(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, trackingIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range trackingIDs {
		delete(s.records, id)
	}
	return nil
}

func (s *MemoryStore) MarkOpened(_ context.Context, trackingID string, openedAt time.Time) (*models.TrackingRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[trackingID]
	if !ok {
		return nil, false, fmt.Errorf("%s: %w", trackingID, ErrNotFound)
	}
	if rec.Opened {
		return clone(rec), false, nil
	}

	markOpened(&rec, openedAt)
	if err := Validate(&rec); err != nil {
		return nil, false, err
	}
	s.records[trackingID] = *clone(rec)
	return clone(rec), true, nil
}

func markOpened(rec *models.TrackingRecord, openedAt time.Time) {
	at := openedAt.UTC()
	rec.Opened = true
	rec.OpenedAt = &at
	rec.Status = models.StatusOpened
}

func clone(rec models.TrackingRecord) *models.TrackingRecord {
	if rec.OpenedAt != nil {
		at := *rec.OpenedAt
		rec.OpenedAt = &at
	}
	return &rec
}
