package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"ai-analysis-pipeline/internal/domain/ports/adapter"
)

var _ adapter.SubjectLocker = (*RedisLocker)(nil)

const unlockTimeout = 2 * time.Second

// RedisLocker gives per-subject exclusivity across instances with SET NX PX
// and a token checked on release.
type RedisLocker struct {
	cli *redis.Client
}

func NewLocker(c *redClient) *RedisLocker {
	return &RedisLocker{cli: c.cli}
}

func subjectLockKey(subjectID string) string { return "lock:subject:" + subjectID }

// TryLock does not wait: a held lock returns ok=false immediately.
func (l *RedisLocker) TryLock(ctx context.Context, subjectID string, ttl time.Duration) (func(), bool, error) {
	key := subjectLockKey(subjectID)
	token := uuid.NewString()
	ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		// The run context may already be done; release on a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		_ = l.unlock(ctx, key, token)
	}, true, nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}
