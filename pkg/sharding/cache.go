package sharding

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// ShardCache 进程间共享的已建分表记录
type ShardCache interface {
	Known(ctx context.Context, table string) (bool, error)
	Remember(ctx context.Context, table string) error
}

// RedisShardCache 以 redis set 保存已建分表
type RedisShardCache struct {
	client redis.Cmdable
	key    string
}

// NewRedisShardCache 创建 redis 分表缓存
func NewRedisShardCache(client redis.Cmdable, key string) *RedisShardCache {
	return &RedisShardCache{client: client, key: key}
}

func (c *RedisShardCache) Known(ctx context.Context, table string) (bool, error) {
	return c.client.SIsMember(ctx, c.key, table).Result()
}

func (c *RedisShardCache) Remember(ctx context.Context, table string) error {
	return c.client.SAdd(ctx, c.key, table).Err()
}
