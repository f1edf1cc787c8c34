package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunnerLock is the single-runner lock guarding scheduled tasks. Acquisition
// is non-blocking: a contending run is skipped silently.
type RunnerLock interface {
	// TryAcquire attempts to take the lock for a task name. It returns a
	// release function and true on success, and (nil, false) when another
	// runner holds the lock.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error)
}

// localLock is the in-process fallback used when no redis URL is configured.
// It is sufficient for a single-process deployment; across a fleet the redis
// lock is authoritative.
type localLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLock creates an in-process RunnerLock.
func NewLocalLock() RunnerLock {
	return &localLock{held: make(map[string]struct{})}
}

func (l *localLock) TryAcquire(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[name]; taken {
		return nil, false, nil
	}
	l.held[name] = struct{}{}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
	}
	return release, true, nil
}

// redisLock implements RunnerLock on a shared redis, so overlapping runs are
// prevented across a worker fleet. The TTL bounds a stuck holder.
type redisLock struct {
	client *redis.Client
}

// releaseScript deletes the lock only if this runner still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisLock creates a RunnerLock backed by the redis at url.
func NewRedisLock(url string) (RunnerLock, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &redisLock{client: redis.NewClient(opts)}, nil
}

func (l *redisLock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := "locks:tasks:" + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Release outlives the task context so an expired deadline does not
		// leave the lock held until the TTL.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}
