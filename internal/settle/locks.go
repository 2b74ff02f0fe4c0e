package settle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRegionBusy means a matching pass is already in flight for the region.
var ErrRegionBusy = errors.New("matching pass already running for region")

// Locker guards the per-region single-writer discipline: at most one matching
// pass per region at a time. Acquire does not block; a busy region fails fast
// with ErrRegionBusy.
type Locker interface {
	Acquire(ctx context.Context, regionID string) (release func(), err error)
}

// LocalLocker serializes passes within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) Acquire(ctx context.Context, regionID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[regionID] {
		return nil, fmt.Errorf("%w: %s", ErrRegionBusy, regionID)
	}
	l.held[regionID] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, regionID)
	}, nil
}

// RedisLocker extends the discipline across processes with a SET NX lease.
// The lease value is checked on release so an expired lease cannot delete a
// successor's lock.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (l *RedisLocker) Acquire(ctx context.Context, regionID string) (func(), error) {
	key := "match:lock:" + regionID
	token := fmt.Sprintf("%d", time.Now().UnixNano())

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire region lease: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRegionBusy, regionID)
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, nil
}

// ChainLockers composes lockers; all must grant before the pass may run, and
// grants release in reverse order.
func ChainLockers(lockers ...Locker) Locker {
	return chainLocker(lockers)
}

type chainLocker []Locker

func (c chainLocker) Acquire(ctx context.Context, regionID string) (func(), error) {
	var releases []func()
	for _, l := range c {
		release, err := l.Acquire(ctx, regionID)
		if err != nil {
			for i := len(releases) - 1; i >= 0; i-- {
				releases[i]()
			}
			return nil, err
		}
		releases = append(releases, release)
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}, nil
}
