package counters

import (
	"context"
	"fmt"
)

// Backend names accepted by OpenStore.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQL    = "sql"
)

// Options select and address a counter backend.
type Options struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	DBURL         string
}

// OpenStore connects the backend named in opts.
func OpenStore(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		client, err := DialRedis(ctx, opts.RedisAddr, opts.RedisPassword)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client), nil
	case BackendSQL:
		return OpenSQLStore(ctx, opts.DBURL)
	default:
		return nil, fmt.Errorf("unknown counters backend %q (expected memory, redis or sql)", opts.Backend)
	}
}
