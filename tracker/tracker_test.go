package tracker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailtracker/config"
	"mailtracker/models"
)

func newTestTracker(t *testing.T) (*Tracker, *fakeClock) {
	t.Helper()
	h, clock := newTestHistory(t0)
	return NewTracker(config.Default(), h, zap.NewNop()), clock
}

func fetchPixel(tr *Tracker, id, ua, referer string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/track/"+id, nil)
	r.Header.Set("User-Agent", ua)
	if referer != "" {
		r.Header.Set("Referer", referer)
	}
	w := httptest.NewRecorder()
	tr.TrackEmailOpen(w, r, id)
	return w
}

func assertPixel(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", w.Header().Get("Cache-Control"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, gifData, w.Body.Bytes())
}

func TestTrackEmailOpen_RecordsSecondFetch(t *testing.T) {
	tr, clock := newTestTracker(t)

	assertPixel(t, fetchPixel(tr, "track_abc", chromeUA, inboxReferer))
	assert.False(t, tr.GetTrackingStatus("track_abc").Opened)

	clock.Advance(10 * time.Second)
	assertPixel(t, fetchPixel(tr, "track_abc", chromeUA, inboxReferer))

	status := tr.GetTrackingStatus("track_abc")
	assert.True(t, status.Opened)
	assert.Equal(t, 1, status.OpenCount)
	assert.True(t, status.ReceiverOnly)
	require.Len(t, status.Events, 1)
	assert.Equal(t, 65, status.Events[0].ConfidenceScore)
}

func TestTrackEmailOpen_MalformedIDStillServesPixel(t *testing.T) {
	tr, _ := newTestTracker(t)
	long := strings.Repeat("x", 500)

	assertPixel(t, fetchPixel(tr, long, chromeUA, ""))
	assert.Equal(t, 0, tr.history.(*History).Len())
}

type panickyHistory struct{}

func (panickyHistory) RecordAccess(string, models.RequestMetadata) Classification {
	panic("boom")
}

func (panickyHistory) Events(string) []models.ReceiverOpenEvent { return nil }

func TestTrackEmailOpen_ClassifierPanicStillServesPixel(t *testing.T) {
	tr := &Tracker{history: panickyHistory{}, logger: zap.NewNop(), maxIDLength: 128}

	assert.NotPanics(t, func() {
		assertPixel(t, fetchPixel(tr, "track_abc", chromeUA, ""))
	})
}

func TestGetTrackingStatus_UnknownID(t *testing.T) {
	tr, _ := newTestTracker(t)

	status := tr.GetTrackingStatus("nobody")
	assert.Equal(t, "nobody", status.TrackingID)
	assert.False(t, status.Opened)
	assert.Equal(t, 0, status.OpenCount)
	assert.NotNil(t, status.Events)
	assert.Empty(t, status.Events)
}

func TestEmbedTrackingPixel(t *testing.T) {
	html, err := EmbedTrackingPixel("<p>hello</p>", "track_abc", "https://pixel.example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(html, "<p>hello</p>"))
	assert.Contains(t, html, `src="https://pixel.example.com/track/track_abc"`)
	assert.Contains(t, html, `width="1"`)
	assert.Equal(t, "https://pixel.example.com/track/track_abc", PixelURL("https://pixel.example.com", "track_abc"))
}

func TestTrackEmailOpen_PanicDoesNotWedgeTrackingID(t *testing.T) {
	tr, clock := newTestTracker(t)
	h := tr.history.(*History)
	orig := h.classifier
	h.classifier = panickingClassifier{}

	assertPixel(t, fetchPixel(tr, "track_abc", chromeUA, inboxReferer))
	h.classifier = orig

	done := make(chan struct{})
	go func() {
		defer close(done)
		fetchPixel(tr, "track_abc", chromeUA, inboxReferer)
		clock.Advance(10 * time.Second)
		fetchPixel(tr, "track_abc", chromeUA, inboxReferer)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pixel fetch blocked after a recovered classifier panic")
	}
	assert.True(t, tr.GetTrackingStatus("track_abc").Opened)
}
