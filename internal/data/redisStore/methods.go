package redisStore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

func (s *Store) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return s.client.Set(ctx, key, value, expiration).Err()
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	return s.client.Get(ctx, key).Result()
}

// GetMany returns the values in key order; missing keys come back as empty strings.
func (s *Store) GetMany(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(values))
	for i, v := range values {
		if str, ok := v.(string); ok {
			out[i] = str
		}
	}
	return out, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

func (s *Store) IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	count, err := s.client.Exists(ctx, key).Result()
	return count > 0, err
}

// SetIndexed writes key and records member in the index sorted set under score,
// refreshing the index expiry, in one transaction.
func (s *Store) SetIndexed(ctx context.Context, key string, value interface{}, ttl time.Duration, index string, member string, score float64) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, value, ttl)
	pipe.ZAdd(ctx, index, redis.Z{Score: score, Member: member})
	if ttl > 0 {
		pipe.Expire(ctx, index, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// IndexNewest returns up to n members with the highest scores, highest first.
func (s *Store) IndexNewest(ctx context.Context, index string, n int64) ([]string, error) {
	stop := int64(-1)
	if n > 0 {
		stop = n - 1
	}
	return s.client.ZRevRange(ctx, index, 0, stop).Result()
}

func (s *Store) IndexRemove(ctx context.Context, index string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.ZRem(ctx, index, args...).Err()
}

// ListAppendCapped pushes value and trims the list to its newest maxLen items in one round trip.
func (s *Store) ListAppendCapped(ctx context.Context, key string, value interface{}, maxLen int64) error {
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, value)
	if maxLen > 0 {
		pipe.LTrim(ctx, key, -maxLen, -1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// ListTail returns up to n of the newest items, oldest first. n <= 0 returns the whole list.
func (s *Store) ListTail(ctx context.Context, key string, n int64) ([]string, error) {
	start := int64(0)
	if n > 0 {
		start = -n
	}
	return s.client.LRange(ctx, key, start, -1).Result()
}
