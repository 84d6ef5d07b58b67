package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type (
	RedisService struct {
		rdb redis.UniversalClient
	}
)

func NewRedis(rdb redis.UniversalClient) *RedisService {
	return &RedisService{
		rdb: rdb,
	}
}

func (r *RedisService) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisService) RPush(ctx context.Context, key string, value ...any) error {
	return r.rdb.RPush(ctx, key, value...).Err()
}

func (r *RedisService) LRange(ctx context.Context, key string) ([]string, error) {
	return r.rdb.LRange(ctx, key, 0, -1).Result()
}

func (r *RedisService) HSet(ctx context.Context, key string, values ...any) error {
	return r.rdb.HSet(ctx, key, values...).Err()
}

func (r *RedisService) HVals(ctx context.Context, key string) ([]string, error) {
	return r.rdb.HVals(ctx, key).Result()
}

// TxPipelined runs fn inside MULTI/EXEC so its commands apply together.
func (r *RedisService) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) error {
	_, err := r.rdb.TxPipelined(ctx, fn)
	return err
}

func (r *RedisService) Close() error {
	return r.rdb.Close()
}
