package jobqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it is still held by the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a Redis SET NX lock shared by all replicas.
type Lock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewLock(rdb *redis.Client, key string, ttl time.Duration) *Lock {
	return &Lock{rdb: rdb, key: key, ttl: ttl}
}

// TryAcquire takes the lock if free. The returned release func must be called
// when done; it is a no-op when the lock was not acquired.
func (l *Lock) TryAcquire(ctx context.Context) (bool, func(), error) {
	token := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil || !ok {
		return false, func() {}, err
	}
	release := func() {
		// Release must run even if ctx was canceled.
		_ = releaseScript.Run(context.Background(), l.rdb, []string{l.key}, token).Err()
	}
	return true, release, nil
}
