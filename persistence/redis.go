package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tcriess/lightspeed-meeting/config"
	"github.com/tcriess/lightspeed-meeting/types"
)

// RedisNotifier appends notifications to a list per room and publishes them
// on a channel, so collaborators can either poll or subscribe.
type RedisNotifier struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func NewRedisNotifier(cfg *config.Config) (*RedisNotifier, error) {
	rc := cfg.NotificationConfig.Redis
	opt, err := redis.ParseURL(rc.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URI: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisNotifier{
		client:    client,
		keyPrefix: rc.KeyPrefix,
		ttl:       rc.TTL,
	}, nil
}

// RoomKey is the list holding the notifications of a room.
func (p *RedisNotifier) RoomKey(roomId string) string {
	return p.keyPrefix + "room:" + roomId + ":notifications"
}

// Channel is the pub/sub channel every notification is published on.
func (p *RedisNotifier) Channel() string {
	return p.keyPrefix + "notifications"
}

func (p *RedisNotifier) Notify(ctx context.Context, notification *types.Notification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	key := p.RoomKey(notification.RoomId)
	pipe := p.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if p.ttl > 0 {
		pipe.Expire(ctx, key, p.ttl)
	}
	pipe.Publish(ctx, p.Channel(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	return nil
}

func (p *RedisNotifier) Close() error {
	return p.client.Close()
}
