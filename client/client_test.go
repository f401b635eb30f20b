package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtracker/models"
)

func TestFetchStatus(t *testing.T) {
	opened := time.Date(2025, 3, 1, 12, 0, 10, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tracking/track_abc", r.URL.Path)
		assert.Equal(t, "true", r.Header.Get("ngrok-skip-browser-warning"))
		json.NewEncoder(w).Encode(models.TrackingStatus{
			TrackingID:   "track_abc",
			Opened:       true,
			OpenCount:    1,
			Events:       []models.ReceiverOpenEvent{{TrackingID: "track_abc", Timestamp: opened}},
			ReceiverOnly: true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	status, err := c.FetchStatus(context.Background(), "track_abc")
	require.NoError(t, err)
	assert.True(t, status.Opened)
	first, ok := status.FirstOpen()
	require.True(t, ok)
	assert.True(t, first.Timestamp.Equal(opened))
}

func TestFetchStatus_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tracking/bad-json" {
			w.Write([]byte("{not json"))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := New(srv.URL, time.Second)

	_, err := c.FetchStatus(context.Background(), "track_abc")
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))

	_, err = c.FetchStatus(context.Background(), "bad-json")
	assert.Error(t, err)

	srv.Close()
	_, err = c.FetchStatus(context.Background(), "track_abc")
	assert.Error(t, err)
}
