package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired блокировку не удалось взять до истечения контекста.
var ErrLockNotAcquired = errors.New("lock not acquired")

const lockRetryInterval = 50 * time.Millisecond

// unlockScript снимает блокировку, только если она всё ещё принадлежит владельцу.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lock берёт блокировку key на ttl (SET NX PX), повторяя попытки до отмены ctx.
// Возвращённая функция снимает блокировку.
func (c *Cache) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	const op = "cache.Lock"
	token, err := lockToken()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	lockKey := "lock:" + key
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()
	for {
		ok, err := c.Db.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if ok {
			return func() {
				// снимаем блокировку даже после отмены исходного контекста
				_ = unlockScript.Run(context.WithoutCancel(ctx), c.Db, []string{lockKey}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %s: %w", op, key, ErrLockNotAcquired)
		case <-ticker.C:
		}
	}
}

func lockToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
