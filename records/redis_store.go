package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"mailtracker/models"
)

// RedisStore keeps each record as a JSON string under prefix+trackingID and
// the set of known ids under prefix+"index".
type RedisStore struct {
	client *redis.Client
	prefix string
}

// markOpenedRetries bounds optimistic retries when another writer touches
// the record between WATCH and EXEC.
const markOpenedRetries = 5

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(trackingID string) string {
	return s.prefix + trackingID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

func (s *RedisStore) Get(ctx context.Context, trackingID string) (*models.TrackingRecord, error) {
	raw, err := s.client.Get(ctx, s.key(trackingID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", trackingID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", trackingID, err)
	}

	var rec models.TrackingRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", trackingID, err)
	}
	return &rec, nil
}

func (s *RedisStore) Save(ctx context.Context, rec *models.TrackingRecord) error {
	if err := Validate(rec); err != nil {
		return err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.TrackingID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(rec.TrackingID), body, 0)
		pipe.SAdd(ctx, s.indexKey(), rec.TrackingID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", rec.TrackingID, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]*models.TrackingRecord, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list index: %w", err)
	}
	if len(ids) == 0 {
		return []*models.TrackingRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make([]*models.TrackingRecord, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// indexed but gone; heal the index lazily
			s.client.SRem(ctx, s.indexKey(), ids[i])
			continue
		}
		var rec models.TrackingRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", ids[i], err)
		}
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, trackingIDs ...string) error {
	if len(trackingIDs) == 0 {
		return nil
	}
	keys := make([]string, len(trackingIDs))
	members := make([]interface{}, len(trackingIDs))
	for i, id := range trackingIDs {
		keys[i] = s.key(id)
		members[i] = id
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// MarkOpened flips opened inside a WATCH/MULTI transaction, so only one of
// several processes confirming the same open wins.
func (s *RedisStore) MarkOpened(ctx context.Context, trackingID string, openedAt time.Time) (*models.TrackingRecord, bool, error) {
	key := s.key(trackingID)

	var (
		rec models.TrackingRecord
		won bool
	)
	txf := func(tx *redis.Tx) error {
		won = false
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%s: %w", trackingID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("redis get %s: %w", trackingID, err)
		}

		rec = models.TrackingRecord{}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode record %s: %w", trackingID, err)
		}
		if rec.Opened {
			return nil
		}

		markOpened(&rec, openedAt)
		if err := Validate(&rec); err != nil {
			return err
		}
		body, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", trackingID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, body, 0)
			return nil
		})
		if err != nil {
			return err
		}
		won = true
		return nil
	}

	for i := 0; i < markOpenedRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return &rec, won, nil
	}
	return nil, false, fmt.Errorf("redis mark opened %s: %w", trackingID, redis.TxFailedErr)
}
