package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("redisstore: timed out waiting for session lock")

const (
	lockTTL       = 30 * time.Second
	lockPoll      = 50 * time.Millisecond
	lockWaitLimit = 15 * time.Second
)

// Locker serializes turns per chat session across processes.
// SET NX with a per-holder token; release only deletes our own lock.
type Locker struct {
	rdb *redis.Client
}

func NewLocker(addr, password string, db int) *Locker {
	return &Locker{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func NewLockerFromClient(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (l *Locker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	key := "voyago:turnlock:" + sessionID
	token := uuid.NewString()

	deadline := time.Now().Add(lockWaitLimit)
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPoll):
		}
	}

	release := func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.rdb, []string{key}, token).Err()
	}
	return release, nil
}

func (l *Locker) Close() error { return l.rdb.Close() }
