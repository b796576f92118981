// Package redis keeps rate limit windows in redis sorted sets so every
// replica shares one budget per client.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"credverify/internal/ratelimit"
)

const keyPrefix = "credverify:ratelimit:"

// allowScript prunes the window, admits the request when under limit and
// returns {allowed, remaining, oldest score in ms}.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  count = count + 1
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {1, limit - count, tonumber(oldest[2])}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local score = now
if oldest[2] then score = tonumber(oldest[2]) end
return {0, 0, score}
`)

// Store implements ratelimit.Store.
type Store struct {
	client redis.Scripter
	now    func() time.Time
}

// New wraps client. now may be nil.
func New(client redis.Scripter, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{client: client, now: now}
}

// Allow implements ratelimit.Store.
func (s *Store) Allow(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Result, error) {
	now := s.now().UnixMilli()
	vals, err := allowScript.Run(ctx, s.client, []string{keyPrefix + key},
		now, window.Milliseconds(), limit, uuid.NewString()).Int64Slice()
	if err != nil {
		return ratelimit.Result{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(vals) != 3 {
		return ratelimit.Result{}, fmt.Errorf("rate limit script: unexpected reply of %d values", len(vals))
	}
	return ratelimit.Result{
		Allowed:   vals[0] == 1,
		Limit:     limit,
		Remaining: int(vals[1]),
		ResetAt:   time.UnixMilli(vals[2]).Add(window),
	}, nil
}
