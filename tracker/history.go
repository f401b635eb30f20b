package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailtracker/metrics"
	"mailtracker/models"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

var SystemClock Clock = ClockFunc(time.Now)

// decider is the classification step History runs under the entry lock.
type decider interface {
	Classify(meta models.RequestMetadata, snap Snapshot, now time.Time) Classification
}

// History is the in-memory access history: the first-seen time and the
// recorded receiver open of every tracking id. Fetches of different ids
// never contend beyond the map lookup; fetches of the same id serialize on
// the entry lock so at most one event is ever appended.
type History struct {
	classifier decider
	clock      Clock

	mu      sync.Mutex
	entries map[string]*historyEntry
}

type historyEntry struct {
	mu          sync.Mutex
	createdAt   time.Time
	seen        bool
	firstSeenAt time.Time
	events      []models.ReceiverOpenEvent
	evicted     bool
}

func NewHistory(classifier Classifier, clock Clock) *History {
	if clock == nil {
		clock = SystemClock
	}
	return &History{
		classifier: classifier,
		clock:      clock,
		entries:    make(map[string]*historyEntry),
	}
}

func (h *History) RecordAccess(trackingID string, meta models.RequestMetadata) Classification {
	return h.RecordAccessAt(trackingID, meta, h.clock.Now())
}

// RecordAccessAt classifies a fetch observed at now and appends a receiver
// open event when the decision is ReceiverOpen.
func (h *History) RecordAccessAt(trackingID string, meta models.RequestMetadata, now time.Time) Classification {
	for {
		if c, ok := h.record(h.entry(trackingID, now), trackingID, meta, now); ok {
			return c
		}
	}
}

// record applies one fetch to e. It reports false when e was swept between
// lookup and lock and the caller must fetch a fresh entry.
func (h *History) record(e *historyEntry, trackingID string, meta models.RequestMetadata, now time.Time) (Classification, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return Classification{}, false
	}

	c := h.classifier.Classify(meta, Snapshot{
		Seen:        e.seen,
		FirstSeenAt: e.firstSeenAt,
		Recorded:    len(e.events),
	}, now)

	switch c.Decision {
	case SenderOrBotAccess:
		if c.Reason == ReasonFirstSeen {
			e.seen = true
			e.firstSeenAt = now
		}
	case ReceiverOpen:
		if len(e.events) == 0 {
			e.events = append(e.events, newReceiverOpenEvent(trackingID, meta, c, now))
		}
	case TooSoonAfterFirstSeen, AlreadyRecorded:
	}
	return c, true
}

func (h *History) entry(trackingID string, now time.Time) *historyEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[trackingID]
	if !ok {
		e = &historyEntry{createdAt: now}
		h.entries[trackingID] = e
	}
	return e
}

func newReceiverOpenEvent(trackingID string, meta models.RequestMetadata, c Classification, now time.Time) models.ReceiverOpenEvent {
	return models.ReceiverOpenEvent{
		ID:                  uuid.NewString(),
		TrackingID:          trackingID,
		Timestamp:           now,
		UserAgent:           meta.UserAgent,
		SourceIP:            meta.SourceIP,
		Referer:             meta.Referer,
		DelaySinceFirstSeen: c.Delay.Milliseconds(),
		ConfidenceScore:     c.Confidence,
		IsKnownImageProxy:   c.ImageProxy,
		DeviceType:          c.Device.DeviceType,
		Browser:             c.Device.Browser,
		OS:                  c.Device.OS,
	}
}

// Events returns a copy of the recorded events, empty for unknown ids.
func (h *History) Events(trackingID string) []models.ReceiverOpenEvent {
	h.mu.Lock()
	e, ok := h.entries[trackingID]
	h.mu.Unlock()
	if !ok {
		return []models.ReceiverOpenEvent{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.ReceiverOpenEvent, len(e.events))
	copy(out, e.events)
	return out
}

// FirstSeen returns when the id was first attributed to the sender.
func (h *History) FirstSeen(trackingID string) (time.Time, bool) {
	h.mu.Lock()
	e, ok := h.entries[trackingID]
	h.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.firstSeenAt, e.seen
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Sweep drops entries whose first-seen time (or creation time, if never
// seen) is older than maxAge. It returns the number of entries removed.
func (h *History) Sweep(maxAge time.Duration) int {
	cutoff := h.clock.Now().Add(-maxAge)

	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for id, e := range h.entries {
		e.mu.Lock()
		born := e.createdAt
		if e.seen {
			born = e.firstSeenAt
		}
		if born.Before(cutoff) {
			e.evicted = true
			delete(h.entries, id)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// Run sweeps every interval until ctx is done, evicting entries older than maxAge.
func (h *History) Run(ctx context.Context, interval, maxAge time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := h.Sweep(maxAge)
			remaining := h.Len()
			metrics.HistoryEntries.Set(float64(remaining))
			if removed > 0 {
				logger.Info("swept access history",
					zap.Int("removed", removed), zap.Int("remaining", remaining))
			}
		}
	}
}
