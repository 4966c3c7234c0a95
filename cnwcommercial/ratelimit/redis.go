package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "cnw:ratelimit:"

// allowScript counts one request unless the window is already full. The
// key's TTL is set when the window opens, so expired windows vanish on
// their own.
var allowScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 1
`)

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithKeyPrefix sets the Redis key prefix. Default: "cnw:ratelimit:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) {
		l.prefix = prefix
	}
}

// RedisLimiter is a fixed-window limiter shared across processes through Redis.
type RedisLimiter struct {
	client redis.Scripter
	cfg    Config
	prefix string
}

// NewRedisLimiter creates a limiter on top of an existing Redis client.
// The caller manages the client's lifecycle.
func NewRedisLimiter(client redis.Scripter, cfg Config, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		client: client,
		cfg:    cfg.withDefaults(),
		prefix: defaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := allowScript.Run(ctx, l.client,
		[]string{l.key(key)},
		l.cfg.MaxRequests, l.cfg.Window.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return res == 1, nil
}

func (l *RedisLimiter) key(k string) string {
	return l.prefix + k
}
