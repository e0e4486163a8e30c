package counters

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPingTimeout = 2 * time.Second
	redisScanCount   = 256
)

// RedisStore keeps counters as plain Redis integer keys.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisStore) Incr(ctx context.Context, key string, n int64) error {
	return r.client.IncrBy(ctx, key, n).Err()
}

func (r *RedisStore) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := r.scan(ctx, prefix)
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += redisScanCount {
		end := min(start+redisScanCount, len(keys))
		if err := r.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisStore) List(ctx context.Context, prefix string) (map[string]int64, error) {
	keys, err := r.scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			// Deleted between SCAN and MGET.
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s holds non-integer value %q", keys[i], s)
		}
		out[keys[i]] = n
	}
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, globEscape(prefix)+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// globEscape quotes the Redis MATCH metacharacters in s.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
