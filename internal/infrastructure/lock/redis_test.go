package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

type redisFake struct {
	mu      sync.Mutex
	values  map[string]string
	setErr  error
	setNX   int
	evalled int
}

func newRedisFake() *redisFake {
	return &redisFake{values: map[string]string{}}
}

func (f *redisFake) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setNX++
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *redisFake) release(keys []string, args []any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evalled++
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *redisFake) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.release(keys, args)
}

func (f *redisFake) EvalSha(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.release(keys, args)
}

func (f *redisFake) EvalRO(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *redisFake) EvalShaRO(ctx context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	return f.EvalSha(ctx, sha, keys, args...)
}

func (f *redisFake) ScriptExists(context.Context, ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (f *redisFake) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func (f *redisFake) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.values[key]
	return ok
}

func TestLockAcquiresAndReleases(t *testing.T) {
	rdb := newRedisFake()
	locker := NewRedisLocker(rdb, nil, Options{})

	unlock, err := locker.Lock(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if !rdb.has(keyPrefix + "m-1") {
		t.Fatalf("expected lock key to be set")
	}
	unlock()
	if rdb.has(keyPrefix + "m-1") {
		t.Fatalf("expected lock key to be released")
	}
}

func TestLockWaitsForHolder(t *testing.T) {
	rdb := newRedisFake()
	rdb.values[keyPrefix+"m-1"] = "someone-else"
	locker := NewRedisLocker(rdb, nil, Options{RetryInterval: time.Millisecond})

	go func() {
		time.Sleep(20 * time.Millisecond)
		rdb.mu.Lock()
		delete(rdb.values, keyPrefix+"m-1")
		rdb.mu.Unlock()
	}()

	unlock, err := locker.Lock(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer unlock()
	if rdb.setNX < 2 {
		t.Fatalf("expected polling, got %d attempts", rdb.setNX)
	}
}

func TestLockHonorsContext(t *testing.T) {
	rdb := newRedisFake()
	rdb.values[keyPrefix+"m-1"] = "someone-else"
	locker := NewRedisLocker(rdb, nil, Options{RetryInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "m-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestReleaseLeavesForeignToken(t *testing.T) {
	rdb := newRedisFake()
	locker := NewRedisLocker(rdb, nil, Options{})

	unlock, err := locker.Lock(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	rdb.mu.Lock()
	rdb.values[keyPrefix+"m-1"] = "taken-over"
	rdb.mu.Unlock()

	unlock()
	if !rdb.has(keyPrefix + "m-1") {
		t.Fatalf("release must not delete a lock held by another token")
	}
}

func TestLockReportsRedisFailureAsTemporary(t *testing.T) {
	rdb := newRedisFake()
	rdb.setErr = errors.New("connection refused")
	released := false
	local := localLockerFunc(func(context.Context, string) (func(), error) {
		return func() { released = true }, nil
	})

	_, err := NewRedisLocker(rdb, local, Options{}).Lock(context.Background(), "m-1")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	if !released {
		t.Fatalf("local lock must be released when redis fails")
	}
}

type localLockerFunc func(context.Context, string) (func(), error)

func (f localLockerFunc) Lock(ctx context.Context, id string) (func(), error) {
	return f(ctx, id)
}
