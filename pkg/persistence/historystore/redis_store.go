package historystore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/telegem/telegem/pkg/conversation"
)

const (
	redisKeyPrefix       = "telegem:history:"
	redisFieldHistory    = "history"
	redisFieldLastUpdate = "last_update_ms"
)

// RedisStore persists history records as one hash per user. Merge semantics
// come for free: HSet touches only the fields we own, so other fields on the
// same hash are left alone.
type RedisStore struct {
	client *redis.Client
}

var _ Store = &RedisStore{}

func NewRedisStore(addr string) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis history store: empty addr")
	}
	return &RedisStore{client: redis.NewClient(&redis.Options{Addr: addr})}, nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func redisKeyForUser(user conversation.UserID) string {
	return fmt.Sprintf("%s%d", redisKeyPrefix, int64(user))
}

func (s *RedisStore) Read(ctx context.Context, user conversation.UserID) (Record, bool, error) {
	if s == nil || s.client == nil {
		return Record{}, false, errors.New("redis history store: client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	vals, err := s.client.HMGet(ctx, redisKeyForUser(user), redisFieldHistory, redisFieldLastUpdate).Result()
	if err != nil {
		return Record{}, false, errors.Wrap(err, "redis history store: read")
	}
	rawHistory, ok := vals[0].(string)
	if !ok || rawHistory == "" {
		return Record{}, false, nil
	}

	var history []Entry
	if err := json.Unmarshal([]byte(rawHistory), &history); err != nil {
		return Record{}, false, errors.Wrap(err, "redis history store: decode history")
	}
	rec := Record{History: history}
	if rawMs, ok := vals[1].(string); ok && rawMs != "" {
		var ms int64
		if _, err := fmt.Sscanf(rawMs, "%d", &ms); err == nil {
			rec.LastUpdate = time.UnixMilli(ms)
		}
	}
	return rec, true, nil
}

func (s *RedisStore) MergeWrite(ctx context.Context, user conversation.UserID, rec Record) error {
	if s == nil || s.client == nil {
		return errors.New("redis history store: client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	historyJSON, err := json.Marshal(rec.History)
	if err != nil {
		return errors.Wrap(err, "redis history store: encode history")
	}
	lastUpdate := rec.LastUpdate
	if lastUpdate.IsZero() {
		lastUpdate = time.Now()
	}

	err = s.client.HSet(ctx, redisKeyForUser(user),
		redisFieldHistory, string(historyJSON),
		redisFieldLastUpdate, lastUpdate.UnixMilli(),
	).Err()
	if err != nil {
		return errors.Wrap(err, "redis history store: merge write")
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, user conversation.UserID) error {
	if s == nil || s.client == nil {
		return errors.New("redis history store: client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.client.Del(ctx, redisKeyForUser(user)).Err(); err != nil {
		return errors.Wrap(err, "redis history store: delete")
	}
	return nil
}
