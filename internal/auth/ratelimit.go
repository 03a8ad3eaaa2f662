package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockedOut is returned while a login is locked after repeated failures.
var ErrLockedOut = errors.New("temporarily locked due to too many failed login attempts")

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// RequestsPerMinute caps API requests per client. Zero disables the cap.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	// LoginAttemptsLimit is the max failed SMTP logins before lockout.
	LoginAttemptsLimit int `mapstructure:"login_attempts_limit"`
	// LoginLockoutDuration is how long a login is locked out after exceeding attempts.
	LoginLockoutDuration time.Duration `mapstructure:"login_lockout_duration"`
}

// RateLimiter keeps fixed-window counters in Redis. With a nil client every
// check passes.
type RateLimiter struct {
	client *redis.Client
	config RateLimitConfig
	now    func() time.Time
}

// NewRateLimiter creates a new RateLimiter with the given Redis client and configuration.
func NewRateLimiter(client *redis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		config: config,
		now:    time.Now,
	}
}

// AllowRequest counts one API request for client in the current minute and
// reports whether it is within the limit.
func (rl *RateLimiter) AllowRequest(ctx context.Context, client string) (bool, error) {
	if rl.client == nil || rl.config.RequestsPerMinute <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("ratelimit:api:%s:%d", client, rl.now().Unix()/60)

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("count api request: %w", err)
	}
	return incr.Val() <= int64(rl.config.RequestsPerMinute), nil
}

// Middleware returns an HTTP middleware answering 429 once the client from
// the request context exceeds its per-minute budget. Redis failures let the
// request through.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientFromContext(r.Context())
			if client == "" {
				client = r.RemoteAddr
			}

			ok, err := rl.AllowRequest(r.Context(), client)
			if err == nil && !ok {
				w.Header().Set("Retry-After", strconv.Itoa(60-int(rl.now().Unix()%60)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CheckLoginRateLimit returns ErrLockedOut if username has exceeded the
// failed login limit.
func (rl *RateLimiter) CheckLoginRateLimit(ctx context.Context, username string) error {
	if rl.client == nil || rl.config.LoginAttemptsLimit <= 0 {
		return nil
	}

	count, err := rl.client.Get(ctx, loginKey(username)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("check login rate limit: %w", err)
	}
	if int(count) >= rl.config.LoginAttemptsLimit {
		return ErrLockedOut
	}
	return nil
}

// RecordFailedLogin increments the failed login counter for username.
func (rl *RateLimiter) RecordFailedLogin(ctx context.Context, username string) error {
	if rl.client == nil {
		return nil
	}

	key := loginKey(username)
	pipe := rl.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.config.LoginLockoutDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record failed login: %w", err)
	}
	return nil
}

// ClearFailedLogins resets the failed login counter for username.
func (rl *RateLimiter) ClearFailedLogins(ctx context.Context, username string) error {
	if rl.client == nil {
		return nil
	}
	return rl.client.Del(ctx, loginKey(username)).Err()
}

func loginKey(username string) string {
	return "ratelimit:login:" + username
}
