package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLinkRequestLimited is returned once a window's budget is spent.
	ErrLinkRequestLimited = errors.New("link request rate limited")
	// ErrLinkRedisUnavailable wraps Redis transport failures.
	ErrLinkRedisUnavailable = errors.New("link limiter redis unavailable")
)

// LinkRequestConfig bounds how many links one email or IP may request per
// window.
type LinkRequestConfig struct {
	EnableEmailThrottle bool
	EnableIPThrottle    bool
	MaxRequests         int
	Window              time.Duration
}

// LinkRequestLimiter counts link requests. Every call is counted, including
// calls for unknown accounts, so the limiter never reveals which addresses
// exist.
type LinkRequestLimiter struct {
	redis  redis.UniversalClient
	config LinkRequestConfig
}

func NewLinkRequestLimiter(redisClient redis.UniversalClient, cfg LinkRequestConfig) *LinkRequestLimiter {
	return &LinkRequestLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Allow records one request for purpose and reports ErrLinkRequestLimited
// when the email or IP window is exhausted.
func (l *LinkRequestLimiter) Allow(ctx context.Context, purpose, email, ip string) error {
	if l == nil {
		return nil
	}
	if l.config.EnableEmailThrottle && email != "" {
		if err := l.enforceFixedWindow(ctx, emailKey(purpose, email)); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, ipKey(purpose, ip)); err != nil {
			return err
		}
	}
	return nil
}

// Window returns the configured window length.
func (l *LinkRequestLimiter) Window() time.Duration {
	if l == nil {
		return 0
	}
	return l.config.Window
}

func (l *LinkRequestLimiter) enforceFixedWindow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLinkRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrLinkRedisUnavailable, err)
		}
	}

	if count > int64(l.config.MaxRequests) {
		return ErrLinkRequestLimited
	}

	return nil
}

func emailKey(purpose, email string) string {
	return "klk:" + purpose + ":" + email
}

func ipKey(purpose, ip string) string {
	return "klki:" + purpose + ":" + ip
}
