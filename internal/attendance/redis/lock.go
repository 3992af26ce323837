package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ms-attendance/internal/apperror"
	"ms-attendance/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	DefaultTTL   = 10 * time.Second
	DefaultWait  = 3 * time.Second
	DefaultRetry = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our owner value.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a SETNX lock. TTL bounds how long a crashed holder can block a
// key; Wait bounds how long Acquire polls for a held key.
type Redis struct {
	Client *redis.Client
	TTL    time.Duration
	Wait   time.Duration
	Retry  time.Duration
	Logger *logger.Logger
}

func NewRedis(client *redis.Client, ttl, wait time.Duration, log *logger.Logger) *Redis {
	return &Redis{Client: client, TTL: ttl, Wait: wait, Retry: DefaultRetry, Logger: log}
}

func lockKey(key string) string {
	return "lock:" + key
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	ttl, wait, retry := r.TTL, r.Wait, r.Retry
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if wait <= 0 {
		wait = DefaultWait
	}
	if retry <= 0 {
		retry = DefaultRetry
	}

	owner := uuid.NewString()
	k := lockKey(key)
	deadline := time.Now().Add(wait)

	for {
		ok, err := r.Client.SetNX(ctx, k, owner, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return r.releaser(k, owner), nil
		}
		if time.Now().After(deadline) {
			r.Logger.Warn("REDIS", fmt.Sprintf("Lock %s still held after %s", key, wait))
			return nil, apperror.ErrResourceBusy
		}

		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Redis) releaser(k, owner string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.Client, []string{k}, owner).Err(); err != nil {
				r.Logger.Error("REDIS", fmt.Sprintf("Failed to release %s: %v", k, err))
			}
		})
	}
}

// Held reports whether key is currently locked by anyone.
func (r *Redis) Held(ctx context.Context, key string) (bool, error) {
	n, err := r.Client.Exists(ctx, lockKey(key)).Result()
	return n > 0, err
}

// LocalLocker is an in-process keyed mutex for deployments without Redis.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.slots == nil {
		l.slots = make(map[string]*slot)
	}
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.drop(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
