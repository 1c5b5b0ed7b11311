package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "canvas:queue:"

// Redis keeps each user's messages in a list so several service instances
// can share one offline queue.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the server at address and verifies it responds.
func NewRedis(ctx context.Context, address string, database int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: address, DB: database})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", address, err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Enqueue(ctx context.Context, message Message) error {
	if err := validate(message); err != nil {
		return err
	}
	encoded, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, redisKeyPrefix+message.UserID, encoded).Err()
}

// Drain reads and deletes the list inside MULTI/EXEC so concurrent
// enqueues land either in this batch or the next one.
func (r *Redis) Drain(ctx context.Context, userID string) ([]Message, error) {
	if userID == "" {
		return nil, errMissingUserID
	}
	key := redisKeyPrefix + userID
	pipeline := r.client.TxPipeline()
	rangeCmd := pipeline.LRange(ctx, key, 0, -1)
	pipeline.Del(ctx, key)
	if _, err := pipeline.Exec(ctx); err != nil {
		return nil, err
	}
	values := rangeCmd.Val()
	drained := make([]Message, 0, len(values))
	for _, value := range values {
		var message Message
		if err := json.Unmarshal([]byte(value), &message); err != nil {
			return nil, err
		}
		drained = append(drained, message)
	}
	return drained, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
