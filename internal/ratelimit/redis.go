package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps a sliding log per key in a sorted set scored by request
// time in milliseconds.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
}

type RedisOption func(*RedisStore)

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisStore(rdb redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "botz:ratelimit"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// slidingLog trims the window, counts it and records the request in one
// atomic step. It returns {allowed, count before this request, oldest score}.
var slidingLog = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = -1
	local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #first == 2 then
		oldest = tonumber(first[2])
	end
	return {0, count, oldest}
end

redis.call('ZADD', key, ARGV[1], ARGV[5])
redis.call('PEXPIRE', key, ARGV[3])
return {1, count, tonumber(ARGV[1])}
`)

func (s *RedisStore) Allow(ctx context.Context, rule Rule, now time.Time) (Result, error) {
	key := s.prefix + ":" + rule.Key
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	out, err := slidingLog.Run(ctx, s.rdb, []string{key},
		strconv.FormatInt(nowMs, 10),
		strconv.FormatInt(nowMs-rule.Window.Milliseconds(), 10),
		rule.Window.Milliseconds(),
		rule.Limit,
		member,
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("sliding log: %w", err)
	}
	if len(out) != 3 {
		return Result{}, fmt.Errorf("sliding log: unexpected reply %v", out)
	}

	allowed, count, oldest := out[0] == 1, int(out[1]), out[2]
	if !allowed {
		resetAt := now.Add(rule.Window)
		if oldest >= 0 {
			resetAt = time.UnixMilli(oldest).Add(rule.Window)
		}
		return Result{OK: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Result{OK: true, Remaining: rule.Limit - count - 1, ResetAt: now.Add(rule.Window)}, nil
}
