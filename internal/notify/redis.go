package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher mirrors room events onto Redis pub/sub channels so socket
// servers in other processes can relay them. The channel is the prefix
// followed by the room name.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisPublisher wraps an existing Redis client.
func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix, now: time.Now}
}

// Channel returns the Redis channel used for room.
func (p *RedisPublisher) Channel(room string) string {
	return p.prefix + room
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, room, event string, data any) error {
	frame, err := Encode(room, event, data, p.now())
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.Channel(room), frame).Err(); err != nil {
		return fmt.Errorf("notify: redis publish %s to %s: %w", event, room, err)
	}
	return nil
}
