package convo

import (
	"context"
	"sync"
)

// Locker serializes turn processing per session. Interleaved turns on one
// session could reorder the log or double-trigger compaction.
type Locker interface {
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}

// localLocker is the single-process implementation: one mutex per session
// id. Multi-process deployments use the redis-backed locker instead.
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalLocker() Locker {
	return &localLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *localLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}
