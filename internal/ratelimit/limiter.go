package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces the per-key request windows in Redis.
const KeyPrefix = "antigravity:rpm:"

const window = time.Minute

// Decision is the outcome of admitting one request for an API key.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Checker admits requests for an API key against its requests-per-minute
// budget.
type Checker interface {
	Allow(ctx context.Context, keyID string, rpm int) Decision
}

// Limiter keeps a one-minute sliding window per API key in a Redis sorted
// set. A nil client or a Redis failure admits the request.
type Limiter struct {
	rdb *redis.Client
	now func() time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func NewLimiter(rdb *redis.Client, opts ...Option) *Limiter {
	l := &Limiter{rdb: rdb, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// admitScript trims the window, admits the request if it fits, and reports
// the window's oldest score so callers know when a slot frees up.
// KEYS[1] = window key
// ARGV[1] = now (unix millis)
// ARGV[2] = window (millis)
// ARGV[3] = limit
// ARGV[4] = member for this request
// Returns: {count, 1=admitted/0=rejected, oldest score}
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local admitted = 0
if count < limit then
    redis.call('ZADD', key, now, ARGV[4])
    count = count + 1
    admitted = 1
end
redis.call('PEXPIRE', key, window + 1000)

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
    oldest = tonumber(first[2])
end
return {count, admitted, oldest}
`)

// Allow counts one request for keyID against rpm requests per minute.
func (l *Limiter) Allow(ctx context.Context, keyID string, rpm int) Decision {
	now := l.now()
	if rpm < 1 {
		rpm = 1
	}
	open := Decision{Allowed: true, Limit: rpm, Remaining: rpm - 1, ResetAt: now.Add(window)}
	if l.rdb == nil {
		return open
	}

	res, err := admitScript.Run(ctx, l.rdb, []string{KeyPrefix + keyID},
		now.UnixMilli(), window.Milliseconds(), rpm, uuid.NewString(),
	).Int64Slice()
	if err != nil || len(res) != 3 {
		slog.Warn("rate limit check failed, allowing request", "key_id", keyID, "error", err)
		open.Remaining = rpm
		return open
	}

	count, admitted := int(res[0]), res[1] == 1
	resetAt := time.UnixMilli(res[2]).Add(window)
	d := Decision{
		Allowed:   admitted,
		Limit:     rpm,
		Remaining: max(rpm-count, 0),
		ResetAt:   resetAt,
	}
	if !admitted {
		d.RetryAfter = max(resetAt.Sub(now), time.Second)
	}
	return d
}
