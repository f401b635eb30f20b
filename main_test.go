package main

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailtracker/config"
	"mailtracker/models"
	"mailtracker/records"
)

func setupCLI(t *testing.T) *records.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg = config.Default()
	cfg.Redis.Host = mr.Host()
	cfg.Redis.Port = port
	log = zap.NewNop()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		if rdb != nil {
			rdb.Close()
			rdb = nil
		}
	})
	return records.NewRedisStore(client, cfg.Redis.KeyPrefix)
}

func TestStopCommand_DropsRecord(t *testing.T) {
	ctx := context.Background()
	store := setupCLI(t)
	require.NoError(t, store.Save(ctx, &models.TrackingRecord{
		TrackingID: "track_abc",
		To:         "bob@example.com",
		SentAt:     time.Now().UTC(),
		Status:     models.StatusSent,
	}))

	require.NoError(t, stopCmd.RunE(stopCmd, []string{"track_abc", "track_unknown"}))

	_, err := store.Get(ctx, "track_abc")
	assert.True(t, errors.Is(err, records.ErrNotFound))
}

func TestStopCommand_RequiresID(t *testing.T) {
	assert.Error(t, stopCmd.Args(stopCmd, nil))
}
