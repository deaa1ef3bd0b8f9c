package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PrakarshSingh5/Rate-limiter-service/internal/metrics"
)

// The Lua programs mirror the transitions in transitions.go exactly. Each
// operates on a single hash per subject, reads the redis server clock via
// TIME, and applies PEXPIRE so abandoned subjects self-clean. Reply layout
// is [allowed, remaining, resetAtMs, retryAfterSec, usage].

const fixedWindowLua = `
local t = redis.call('TIME')
local now = t[1] * 1000 + math.floor(t[2] / 1000)
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local start = now - (now % window)
local reset = start + window

local state = redis.call('HMGET', KEYS[1], 'start', 'count')
local count = 0
if state[1] and tonumber(state[1]) == start then
  count = tonumber(state[2])
end

local allowed = 0
local retry = 0
if count < limit then
  allowed = 1
  count = count + 1
  redis.call('HSET', KEYS[1], 'start', start, 'count', count)
  redis.call('PEXPIRE', KEYS[1], window)
else
  retry = math.ceil((reset - now) / 1000)
end

local remaining = limit - count
if remaining < 0 then remaining = 0 end
return {allowed, remaining, reset, retry, count}
`

const slidingWindowLua = `
local t = redis.call('TIME')
local now = t[1] * 1000 + math.floor(t[2] / 1000)
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local start = now - (now % window)
local prevstart = start - window
local reset = start + window

local state = redis.call('HMGET', KEYS[1], 'start', 'cur', 'prev')
local cur = 0
local prev = 0
if state[1] then
  local s = tonumber(state[1])
  if s == start then
    cur = tonumber(state[2])
    prev = tonumber(state[3])
  elseif s == prevstart then
    prev = tonumber(state[2])
  end
end

local elapsed = (now - start) / window
local estimated = prev * (1 - elapsed) + cur

local allowed = 0
local retry = 0
if estimated < limit then
  allowed = 1
  cur = cur + 1
  estimated = estimated + 1
  redis.call('HSET', KEYS[1], 'start', start, 'cur', cur, 'prev', prev)
  redis.call('PEXPIRE', KEYS[1], window * 2)
else
  retry = math.ceil((reset - now) / 1000)
end

local usage = math.floor(estimated)
local remaining = limit - usage
if remaining < 0 then remaining = 0 end
return {allowed, remaining, reset, retry, usage}
`

const tokenBucketLua = `
local t = redis.call('TIME')
local now = t[1] * 1000 + math.floor(t[2] / 1000)
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local rate = limit / (window / 1000)

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last')
local tokens = limit
if state[1] then
  tokens = tonumber(state[1])
  local elapsed = (now - tonumber(state[2])) / 1000
  if elapsed > 0 then
    tokens = math.min(limit, tokens + elapsed * rate)
  end
end

local allowed = 0
local retry = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  retry = math.ceil((1 - tokens) / rate)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'last', now)
redis.call('PEXPIRE', KEYS[1], window * 2)

local remaining = math.floor(tokens)
local reset = now + math.ceil((limit - tokens) / rate * 1000)
local usage = math.floor(limit - tokens)
return {allowed, remaining, reset, retry, usage}
`

// RedisConfig holds parameters for the redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

type redisStore struct {
	client  *redis.Client
	scripts map[Script]*redis.Script
	timeout time.Duration
}

// NewRedis constructs the redis-backed store and verifies connectivity.
func NewRedis(ctx context.Context, cfg RedisConfig) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrUnavailable, cfg.Addr, err)
	}

	return &redisStore{
		client: client,
		scripts: map[Script]*redis.Script{
			ScriptFixedWindow:   redis.NewScript(fixedWindowLua),
			ScriptSlidingWindow: redis.NewScript(slidingWindowLua),
			ScriptTokenBucket:   redis.NewScript(tokenBucketLua),
		},
		timeout: cfg.Timeout,
	}, nil
}

func (s *redisStore) Eval(ctx context.Context, script Script, keys []string, args ...int64) ([]int64, error) {
	sc, ok := s.scripts[script]
	if !ok {
		return nil, fmt.Errorf("unknown script %q", script)
	}

	argv := make([]interface{}, len(args))
	for i, a := range args {
		argv[i] = a
	}

	start := time.Now()
	// Run tries EVALSHA first and falls back to EVAL on NOSCRIPT.
	raw, err := sc.Run(ctx, s.client, keys, argv...).Result()
	metrics.StoreOpDuration.WithLabelValues(string(script)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues(string(script)).Inc()
		return nil, fmt.Errorf("%w: eval %s: %v", ErrUnavailable, script, err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != replyLen {
		return nil, fmt.Errorf("script %s: malformed reply %v", script, raw)
	}
	reply := make([]int64, replyLen)
	for i, v := range values {
		reply[i] = toInt64(v)
	}
	return reply, nil
}

// toInt64 tolerates the reply types go-redis produces for Lua numbers and
// bulk strings.
func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return int64(f)
	default:
		return 0
	}
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	val, err := s.client.Get(ctx, key).Bytes()
	metrics.StoreOpDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get").Inc()
		return nil, false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return val, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := s.client.Set(ctx, key, value, ttl).Err()
	metrics.StoreOpDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	n, err := s.client.Del(ctx, key).Result()
	metrics.StoreOpDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("%w: delete %s: %v", ErrUnavailable, key, err)
	}
	return n > 0, nil
}

func (s *redisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		metrics.StoreErrors.WithLabelValues("keys").Inc()
		return nil, fmt.Errorf("%w: scan %s*: %v", ErrUnavailable, prefix, err)
	}
	return keys, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
