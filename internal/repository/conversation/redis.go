package conversation

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"blind_relay/internal/model"
	redisSvc "blind_relay/internal/service/redis"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one list per conversation. RPUSH is atomic, so list order
// is arrival order at the server.
type RedisStore struct {
	redis *redisSvc.RedisService
}

func NewRedisStore(r *redisSvc.RedisService) *RedisStore {
	return &RedisStore{redis: r}
}

func (s *RedisStore) Append(ctx context.Context, key model.ConversationKey, env model.Envelope) error {
	data, err := encodeEnvelope(env)
	if err != nil {
		return err
	}

	if !key.IsDirect() {
		if err := s.redis.RPush(ctx, listKey(key), data); err != nil {
			return storageError("append", err)
		}
		return nil
	}

	err = s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, listKey(key), data)
		p.HSet(ctx, peersKey(env.From), model.NormalizeName(env.To), env.To)
		p.HSet(ctx, peersKey(env.To), model.NormalizeName(env.From), env.From)
		return nil
	})
	if err != nil {
		return storageError("append", err)
	}
	return nil
}

func (s *RedisStore) ReadAll(ctx context.Context, key model.ConversationKey) ([]model.Envelope, error) {
	vals, err := s.redis.LRange(ctx, listKey(key))
	if err != nil {
		return nil, storageError("read", err)
	}

	envs := make([]model.Envelope, 0, len(vals))
	for _, v := range vals {
		env, err := decodeEnvelope([]byte(v))
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (s *RedisStore) Peers(ctx context.Context, identity string) ([]string, error) {
	peers, err := s.redis.HVals(ctx, peersKey(identity))
	if err != nil {
		return nil, storageError("peers", err)
	}
	slices.SortFunc(peers, func(a, b string) int {
		return strings.Compare(model.NormalizeName(a), model.NormalizeName(b))
	})
	return peers, nil
}

func listKey(key model.ConversationKey) string {
	return fmt.Sprintf("conv: %s", key)
}

func peersKey(identity string) string {
	return fmt.Sprintf("peers: %s", model.NormalizeName(identity))
}

var _ Store = (*RedisStore)(nil)
