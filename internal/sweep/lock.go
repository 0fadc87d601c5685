package sweep

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// LeaderLock is a SET NX PX Redis lock with Lua-guarded release and refresh.
// It keeps concurrent worker processes from running the same sweep twice.
// A nil *LeaderLock always wins; single-process deployments need no Redis.
type LeaderLock struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

// NewLeaderLock builds a lock for key with the given TTL.
func NewLeaderLock(rdb *redis.Client, key string, ttl time.Duration) (*LeaderLock, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	if key == "" {
		return nil, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, err
	}
	return &LeaderLock{
		rdb:   rdb,
		key:   key,
		token: hex.EncodeToString(b[:]),
		ttl:   ttl,
	}, nil
}

// Acquire attempts to take the lock; false means another process holds it.
func (l *LeaderLock) Acquire(ctx context.Context) (bool, error) {
	if l == nil {
		return true, nil
	}
	return l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// Release drops the lock only if this instance still owns it.
func (l *LeaderLock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	_, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int64()
	return err
}

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`)

// Refresh extends the TTL while a long sweep is still running. False means
// ownership was lost.
func (l *LeaderLock) Refresh(ctx context.Context) (bool, error) {
	if l == nil {
		return true, nil
	}
	n, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
