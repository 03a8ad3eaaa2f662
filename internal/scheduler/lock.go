package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker grants short-lived exclusive keys shared by every replica.
type Locker interface {
	// TryLock takes key for ttl. It reports false when another holder has it.
	// The returned release func gives the key back early; it is nil when the
	// key was not taken.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX and a random ownership token.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker creates a RedisLocker; every key is stored under prefix.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, false, fmt.Errorf("lock token: %w", err)
	}
	token := hex.EncodeToString(b)
	full := l.prefix + key

	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", full, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{full}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", full, err)
		}
		return nil
	}
	return release, true, nil
}

// localLocker is used without Redis. Keys expire like Redis keys, so dispatch
// markers still suppress repeat enqueues within this process.
type localLocker struct {
	mu   sync.Mutex
	seq  uint64
	keys map[string]localLock
	now  func() time.Time
}

type localLock struct {
	token   uint64
	expires time.Time
}

func newLocalLocker() *localLocker {
	return &localLocker{keys: make(map[string]localLock), now: time.Now}
}

func (l *localLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.keys[key]; ok && now.Before(held.expires) {
		return nil, false, nil
	}
	for k, held := range l.keys {
		if !now.Before(held.expires) {
			delete(l.keys, k)
		}
	}

	l.seq++
	token := l.seq
	l.keys[key] = localLock{token: token, expires: now.Add(ttl)}

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.keys[key]; ok && held.token == token {
			delete(l.keys, key)
		}
		return nil
	}
	return release, true, nil
}
