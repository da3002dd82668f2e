// Package ratelimit provides a Redis-backed fixed-window request limiter
// shared by every API instance.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default window configuration values.
const (
	DefaultWindow      = time.Minute
	DefaultMaxRequests = 60
	KeyPrefix          = "ratelimit:"
)

// incrementScript counts one hit in the window and reports the new total.
// The key expires with its window.
var incrementScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// WindowLimiter allows at most maxRequests hits per key in each window.
// Windows are aligned to multiples of the window size.
type WindowLimiter struct {
	redis       redis.Cmdable
	window      time.Duration
	maxRequests int
	now         func() time.Time
}

// WindowLimiterConfig holds configuration for the limiter
type WindowLimiterConfig struct {
	// Redis is required.
	Redis redis.Cmdable

	// Window is the counting window. Default: 1m.
	Window time.Duration

	// MaxRequests is the number of hits allowed per window. Default: 60.
	MaxRequests int
}

// NewWindowLimiter creates a limiter, applying defaults to zero values
func NewWindowLimiter(cfg *WindowLimiterConfig) (*WindowLimiter, error) {
	if cfg == nil || cfg.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Window < 0 || cfg.MaxRequests < 0 {
		return nil, errors.New("window and max requests cannot be negative")
	}

	window := cfg.Window
	if window == 0 {
		window = DefaultWindow
	}
	maxRequests := cfg.MaxRequests
	if maxRequests == 0 {
		maxRequests = DefaultMaxRequests
	}

	return &WindowLimiter{
		redis:       cfg.Redis,
		window:      window,
		maxRequests: maxRequests,
		now:         time.Now,
	}, nil
}

func (l *WindowLimiter) windowStart() time.Time {
	return l.now().Truncate(l.window)
}

func (l *WindowLimiter) waitTime(start time.Time) time.Duration {
	wait := start.Add(l.window).Sub(l.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// Allow records a hit for key. When the window is full it returns false
// and the time until the next window opens. Redis failures deny the hit.
func (l *WindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	start := l.windowStart()
	redisKey := KeyPrefix + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)

	count, err := incrementScript.Run(ctx, l.redis, []string{redisKey}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, l.waitTime(start)
	}
	if count > int64(l.maxRequests) {
		return false, l.waitTime(start)
	}
	return true, 0
}

// Limit returns the configured hits per window
func (l *WindowLimiter) Limit() int {
	return l.maxRequests
}
