package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/core/ports"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultRetryInterval = 100 * time.Millisecond

	keyPrefix      = "maintenance:lock:"
	releaseTimeout = 2 * time.Second
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another worker is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// RedisLocker serializes work on one email id across processes. A local
// locker is taken first so goroutines of one process queue in memory instead
// of polling Redis.
type RedisLocker struct {
	rdb           client
	local         ports.EmailLocker
	ttl           time.Duration
	retryInterval time.Duration
	logger        *slog.Logger
}

type Options struct {
	TTL           time.Duration
	RetryInterval time.Duration
	Logger        *slog.Logger
}

func NewRedisLocker(rdb client, local ports.EmailLocker, options Options) *RedisLocker {
	ttl := options.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	retry := options.RetryInterval
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		rdb:           rdb,
		local:         local,
		ttl:           ttl,
		retryInterval: retry,
		logger:        logger,
	}
}

// NewClient parses a redis:// URL the way the rest of the deployment does.
func NewClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

func (l *RedisLocker) Lock(ctx context.Context, emailID string) (func(), error) {
	unlockLocal := func() {}
	if l.local != nil {
		unlock, err := l.local.Lock(ctx, emailID)
		if err != nil {
			return nil, err
		}
		unlockLocal = unlock
	}

	key := keyPrefix + emailID
	token := uuid.NewString()
	if err := l.acquire(ctx, key, token); err != nil {
		unlockLocal()
		return nil, err
	}

	return func() {
		defer unlockLocal()
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.rdb, []string{key}, token).Err(); err != nil {
			l.logger.Warn("email_lock_release_failed", "email_id", emailID, "error", err)
		}
	}, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return domain.WrapError(domain.ErrTemporary, "redis lock acquire", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis lock acquire: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
