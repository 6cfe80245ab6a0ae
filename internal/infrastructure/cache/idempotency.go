// Package cache keeps checkout idempotency records in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrInProgress = errors.New("a request with this idempotency key is still being processed")

const pendingMarker = "pending"

// Response is the stored outcome of a completed request.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: ttl}
}

// Begin claims key for the caller. When the key already completed, the stored
// response is returned and the caller must replay it instead of doing the work.
func (s *IdempotencyStore) Begin(ctx context.Context, userID int64, key string) (*Response, error) {
	k := idempotencyKey(userID, key)

	ok, err := s.client.SetNX(ctx, k, pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if ok {
		return nil, nil
	}

	data, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// Released between SETNX and GET; try once more.
		return s.Begin(ctx, userID, key)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	if string(data) == pendingMarker {
		return nil, ErrInProgress
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal idempotent response failed: %w", err)
	}
	return &resp, nil
}

// Complete stores the response for later replays.
func (s *IdempotencyStore) Complete(ctx context.Context, userID int64, key string, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal idempotent response failed: %w", err)
	}
	if err := s.client.Set(ctx, idempotencyKey(userID, key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Release drops a claim so the request can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, userID int64, key string) error {
	if err := s.client.Del(ctx, idempotencyKey(userID, key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func idempotencyKey(userID int64, key string) string {
	return fmt.Sprintf("idempotency:checkout:%d:%s", userID, key)
}
