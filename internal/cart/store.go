package cart

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

// Store persists cart contents as product id -> quantity.
type Store interface {
	Items(ctx context.Context, userID string) (map[string]int, error)
	Add(ctx context.Context, userID, productID string, qty int) error
	Replace(ctx context.Context, userID string, items map[string]int) error
	Remove(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
}

// RedisStore keeps one hash per user, refreshing its TTL on every write.
type RedisStore struct{ rdb redis.Cmdable }

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb redis.Cmdable) *RedisStore { return &RedisStore{rdb: rdb} }

func key(userID string) string { return fmt.Sprintf(redisx.KeyCart, userID) }

func (s *RedisStore) Items(ctx context.Context, userID string) (map[string]int, error) {
	raw, err := s.rdb.HGetAll(ctx, key(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(raw))
	for pid, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			continue
		}
		out[pid] = n
	}
	return out, nil
}

func (s *RedisStore) Add(ctx context.Context, userID, productID string, qty int) error {
	k := key(userID)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, k, productID, int64(qty))
		p.Expire(ctx, k, redisx.TTLCart)
		return nil
	})
	return err
}

func (s *RedisStore) Replace(ctx context.Context, userID string, items map[string]int) error {
	k := key(userID)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		if len(items) == 0 {
			return nil
		}
		fields := make([]any, 0, len(items)*2)
		for pid, n := range items {
			fields = append(fields, pid, n)
		}
		p.HSet(ctx, k, fields...)
		p.Expire(ctx, k, redisx.TTLCart)
		return nil
	})
	return err
}

func (s *RedisStore) Remove(ctx context.Context, userID, productID string) error {
	return s.rdb.HDel(ctx, key(userID), productID).Err()
}

func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, key(userID)).Err()
}
