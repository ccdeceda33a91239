package lock

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Redis lock: SET key token NX PX ttl to acquire, compare-and-delete in Lua
// to release so that a holder whose lease expired cannot delete a newer
// holder's lock.

var ErrLockFailed = errors.New("could not acquire distributed lock")

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

type DistributedLock struct {
	client     redis.UniversalClient
	key        string
	value      string // holder token
	expiration time.Duration
}

func NewDistributedLock(client redis.UniversalClient, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes one non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock every retryInterval, at most maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// AccountLocker takes a set of Redis locks for one money movement. Keys are
// acquired in sorted order so two movements over the same accounts never
// wait on each other crosswise.
type AccountLocker struct {
	client        redis.UniversalClient
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewAccountLocker(client redis.UniversalClient, waitTimeout time.Duration) *AccountLocker {
	retry := 50 * time.Millisecond
	maxRetries := int(waitTimeout / retry)
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &AccountLocker{
		client:        client,
		expiration:    30 * time.Second,
		retryInterval: retry,
		maxRetries:    maxRetries,
	}
}

// Acquire locks every key or none. The returned func releases them.
func (a *AccountLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	token := uuid.NewString()

	held := make([]*DistributedLock, 0, len(sorted))
	release := func() {
		// a cancelled request context must not leave the keys behind
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Unlock(unlockCtx)
		}
	}

	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		l := NewDistributedLock(a.client, key, token, a.expiration)
		if err := l.Lock(ctx, a.retryInterval, a.maxRetries); err != nil {
			release()
			return nil, err
		}
		held = append(held, l)
	}
	return release, nil
}
