package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"licgate/internal/logs"
)

var ErrLockTimeout = errors.New("lock wait timed out")

/* ───── per-key mutex в памяти процесса ───── */

type keyedEntry struct {
	ch   chan struct{} // буфер 1: занято, если внутри токен
	refs int
}

// KeyedMutex — критическая секция на ключ (лицензию). Записи удаляются, когда ключ никому не нужен.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

/* ───── Redis lock (несколько инстансов сервиса) ───── */

// снимаем только свой токен
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// продлеваем только свой токен
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker — SET NX PX с токеном; пока замок держат, TTL продлевается каждые ttl/3.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration // страховка, если инстанс умер с захваченным замком
	retry  time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 25 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	rkey := keyPrefix + "lock:" + key
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, rkey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.keepAlive(rkey, token, stop, done)
			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					// свой контекст: запрос мог уже завершиться
					rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = unlockScript.Run(rctx, l.client, []string{rkey}, token).Err()
				})
			}, nil
		}
		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-t.C:
		}
	}
}

func (l *RedisLocker) keepAlive(rkey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := extendScript.Run(ctx, l.client, []string{rkey}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				logs.Component("cache").WithError(err).WithField("lock", rkey).Warn("extend lock")
				continue
			}
			if n == 0 {
				logs.Component("cache").WithField("lock", rkey).Warn("lock lost before release")
				return
			}
		}
	}
}
