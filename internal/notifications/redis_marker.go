package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const cooldownKeyPrefix = "umshado:throttle:"

// RedisCooldownMarker keeps throttle markers in Redis with a TTL equal to the cooldown.
type RedisCooldownMarker struct {
	client *redis.Client
}

// NewRedisCooldownMarker parses the Redis URL and verifies connectivity.
func NewRedisCooldownMarker(ctx context.Context, url string) (*RedisCooldownMarker, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("redis: url is required")
	}
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisCooldownMarker{client: client}, nil
}

var _ CooldownMarker = (*RedisCooldownMarker)(nil)

func (m *RedisCooldownMarker) Active(ctx context.Context, receiverID, threadID string) (bool, error) {
	count, err := m.client.Exists(ctx, cooldownKey(receiverID, threadID)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (m *RedisCooldownMarker) Mark(ctx context.Context, receiverID, threadID string, ttl time.Duration) error {
	return m.client.Set(ctx, cooldownKey(receiverID, threadID), "1", ttl).Err()
}

func (m *RedisCooldownMarker) Close() error {
	return m.client.Close()
}

func cooldownKey(receiverID, threadID string) string {
	return cooldownKeyPrefix + receiverID + ":" + threadID
}
