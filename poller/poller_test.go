package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailtracker/models"
)

type fetchFunc func(ctx context.Context, trackingID string) (*models.TrackingStatus, error)

func (f fetchFunc) FetchStatus(ctx context.Context, trackingID string) (*models.TrackingStatus, error) {
	return f(ctx, trackingID)
}

type recordingHandler struct {
	mu    sync.Mutex
	calls map[string][]time.Time
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{calls: make(map[string][]time.Time)}
}

func (h *recordingHandler) MarkOpened(_ context.Context, trackingID string, openedAt time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[trackingID] = append(h.calls[trackingID], openedAt)
	return nil
}

func (h *recordingHandler) callsFor(id string) []time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Time(nil), h.calls[id]...)
}

// manualTicker hands every instance the same unbuffered channel, so each
// send delivers exactly one tick to one waiting instance.
type manualTicker struct {
	ticks   chan time.Time
	created atomic.Int32
	stopped atomic.Int32
}

func newManualTicker() *manualTicker {
	return &manualTicker{ticks: make(chan time.Time)}
}

func (m *manualTicker) factory(time.Duration) (<-chan time.Time, func()) {
	m.created.Add(1)
	return m.ticks, func() { m.stopped.Add(1) }
}

func (m *manualTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case m.ticks <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("no instance waiting for a tick")
	}
}

func (m *manualTicker) assertNoListener(t *testing.T) {
	t.Helper()
	select {
	case m.ticks <- time.Now():
		t.Fatal("an instance is still ticking")
	case <-time.After(50 * time.Millisecond):
	}
}

func notOpened(context.Context, string) (*models.TrackingStatus, error) {
	return &models.TrackingStatus{Events: []models.ReceiverOpenEvent{}}, nil
}

func newTestScheduler(f StatusFetcher, h OpenHandler, opts ...Option) (*Scheduler, *manualTicker) {
	s := NewScheduler(f, h, zap.NewNop(), opts...)
	mt := newManualTicker()
	s.newTicker = mt.factory
	return s, mt
}

func waitDone(t *testing.T, s *Scheduler, id string) {
	t.Helper()
	select {
	case <-s.Done(id):
	case <-time.After(time.Second):
		t.Fatalf("instance %s did not stop", id)
	}
}

func TestScheduler_ConfirmsFirstOpen(t *testing.T) {
	openedAt := time.Date(2025, 3, 1, 12, 0, 10, 0, time.UTC)
	var calls atomic.Int32
	fetch := fetchFunc(func(ctx context.Context, id string) (*models.TrackingStatus, error) {
		if calls.Add(1) < 3 {
			return notOpened(ctx, id)
		}
		return &models.TrackingStatus{
			TrackingID: id,
			Opened:     true,
			OpenCount:  2,
			Events: []models.ReceiverOpenEvent{
				{Timestamp: openedAt.Add(time.Minute)},
				{Timestamp: openedAt},
			},
		}, nil
	})
	handler := newRecordingHandler()
	s, mt := newTestScheduler(fetch, handler)

	require.True(t, s.Start("T1"))
	done := s.Done("T1")
	assert.Equal(t, Active, s.State("T1"))

	mt.tick(t)
	mt.tick(t)
	mt.tick(t)
	<-done

	assert.Equal(t, Confirmed, s.State("T1"))
	assert.Equal(t, []time.Time{openedAt}, handler.callsFor("T1"))
	assert.Empty(t, s.Active())
	assert.Equal(t, int32(1), mt.stopped.Load())

	// resolved ids never restart
	assert.False(t, s.Start("T1"))
	mt.assertNoListener(t)
	assert.Equal(t, int32(3), calls.Load())
}

func TestScheduler_OpenedWithoutEventsKeepsPolling(t *testing.T) {
	var calls atomic.Int32
	fetch := fetchFunc(func(context.Context, string) (*models.TrackingStatus, error) {
		calls.Add(1)
		return &models.TrackingStatus{Opened: true}, nil
	})
	s, mt := newTestScheduler(fetch, newRecordingHandler(), WithMaxPolls(2))

	require.True(t, s.Start("T"))
	done := s.Done("T")
	mt.tick(t)
	assert.Equal(t, Active, s.State("T"))
	mt.tick(t)
	<-done
	assert.Equal(t, Expired, s.State("T"))
}

func TestScheduler_ExpiresAfterMaxPolls(t *testing.T) {
	var calls atomic.Int32
	fetch := fetchFunc(func(ctx context.Context, id string) (*models.TrackingStatus, error) {
		calls.Add(1)
		return notOpened(ctx, id)
	})
	handler := newRecordingHandler()
	s, mt := newTestScheduler(fetch, handler)

	require.True(t, s.Start("T3"))
	done := s.Done("T3")
	for i := 0; i < DefaultMaxPolls; i++ {
		mt.tick(t)
	}
	<-done

	assert.Equal(t, Expired, s.State("T3"))
	mt.assertNoListener(t)
	assert.Equal(t, int32(DefaultMaxPolls), calls.Load())
	assert.Empty(t, handler.callsFor("T3"))
	assert.False(t, s.Start("T3"))
}

func TestScheduler_TransportErrorsRetryNextTick(t *testing.T) {
	var calls atomic.Int32
	fetch := fetchFunc(func(ctx context.Context, id string) (*models.TrackingStatus, error) {
		if calls.Add(1) <= 2 {
			return nil, errors.New("connection refused")
		}
		return &models.TrackingStatus{Opened: true, Events: []models.ReceiverOpenEvent{{Timestamp: time.Unix(100, 0)}}}, nil
	})
	handler := newRecordingHandler()
	s, mt := newTestScheduler(fetch, handler, WithMaxPolls(5))

	require.True(t, s.Start("T4"))
	done := s.Done("T4")
	mt.tick(t)
	mt.tick(t)
	assert.Equal(t, Active, s.State("T4"))
	mt.tick(t)
	<-done

	assert.Equal(t, Confirmed, s.State("T4"))
	assert.Len(t, handler.callsFor("T4"), 1)
}

func TestScheduler_IdempotentStart(t *testing.T) {
	s, mt := newTestScheduler(fetchFunc(notOpened), newRecordingHandler())

	assert.True(t, s.Start("T5"))
	assert.False(t, s.Start("T5"))
	assert.Equal(t, []string{"T5"}, s.Active())
	assert.Equal(t, int32(1), mt.created.Load())

	require.True(t, s.Cancel("T5"))
}

func TestScheduler_CancelReleasesTicker(t *testing.T) {
	s, mt := newTestScheduler(fetchFunc(notOpened), newRecordingHandler())

	require.True(t, s.Start("T6"))
	done := s.Done("T6")
	mt.tick(t)

	assert.True(t, s.Cancel("T6"))
	assert.False(t, s.Cancel("T6"))
	<-done

	assert.Equal(t, Idle, s.State("T6"))
	assert.Equal(t, int32(1), mt.stopped.Load())
	mt.assertNoListener(t)

	// never resolved, so it may start again
	assert.True(t, s.Start("T6"))
	require.True(t, s.Cancel("T6"))
}

func TestScheduler_InstancesAreIndependent(t *testing.T) {
	block := make(chan struct{})
	fetch := fetchFunc(func(ctx context.Context, id string) (*models.TrackingStatus, error) {
		if id == "slow" {
			select {
			case <-block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return &models.TrackingStatus{Opened: true, Events: []models.ReceiverOpenEvent{{Timestamp: time.Unix(1, 0)}}}, nil
	})
	handler := newRecordingHandler()
	s := NewScheduler(fetch, handler, zap.NewNop(),
		WithInterval(5*time.Millisecond), WithRequestTimeout(time.Second))
	defer close(block)

	require.True(t, s.Start("slow"))
	require.True(t, s.Start("fast"))

	waitDone(t, s, "fast")
	assert.Equal(t, Confirmed, s.State("fast"))
	assert.Equal(t, Active, s.State("slow"))

	require.NoError(t, s.Shutdown(context.Background()))
}

func TestScheduler_Shutdown(t *testing.T) {
	s := NewScheduler(fetchFunc(notOpened), newRecordingHandler(), zap.NewNop(), WithInterval(time.Millisecond))

	require.True(t, s.Start("a"))
	require.True(t, s.Start("b"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.Empty(t, s.Active())
	assert.False(t, s.Start("c"))
}

func TestScheduler_StartWithBudget(t *testing.T) {
	var calls atomic.Int32
	fetch := fetchFunc(func(ctx context.Context, id string) (*models.TrackingStatus, error) {
		calls.Add(1)
		return notOpened(ctx, id)
	})
	s, mt := newTestScheduler(fetch, newRecordingHandler())

	assert.False(t, s.StartWithBudget("T7", 0))
	assert.Equal(t, Idle, s.State("T7"))

	require.True(t, s.StartWithBudget("T7", 3))
	done := s.Done("T7")
	for i := 0; i < 3; i++ {
		mt.tick(t)
	}
	<-done

	assert.Equal(t, Expired, s.State("T7"))
	assert.Equal(t, int32(3), calls.Load())
	mt.assertNoListener(t)
}
