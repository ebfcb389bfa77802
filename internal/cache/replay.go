package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReplayGuard — общий для всех инстансов кэш уже принятых подписей.
type RedisReplayGuard struct {
	client *redis.Client
}

func NewRedisReplayGuard(client *redis.Client) *RedisReplayGuard {
	return &RedisReplayGuard{client: client}
}

// Seen фиксирует подпись и сообщает, встречалась ли она раньше в пределах ttl.
func (g *RedisReplayGuard) Seen(ctx context.Context, signature string, ttl time.Duration) (bool, error) {
	fresh, err := g.client.SetNX(ctx, keyPrefix+"sig:"+signature, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !fresh, nil
}
