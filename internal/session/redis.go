package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis stores sessions in Redis with a native TTL, so several bot
// replicas can share conversational state.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func sessionKey(userID int64) string {
	return fmt.Sprintf("session:%d", userID)
}

func (r *Redis) Get(ctx context.Context, userID int64) (Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{UserID: userID}, nil
	}
	if err != nil {
		return Session{}, errors.Wrap(err, "failed to load session")
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		// A corrupt session is not worth failing the update over.
		return Session{UserID: userID}, nil
	}
	return s, nil
}

func (r *Redis) Put(ctx context.Context, s Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "failed to marshal session")
	}
	return errors.Wrap(
		r.client.Set(ctx, sessionKey(s.UserID), raw, r.ttl).Err(),
		"failed to store session")
}

func (r *Redis) Reset(ctx context.Context, userID int64) error {
	return errors.Wrap(
		r.client.Del(ctx, sessionKey(userID)).Err(),
		"failed to reset session")
}
