package relay

import (
	"context"
	"sync"
)

// sessionLocks serializes relay cycles per session id. Entries are
// reference counted and dropped once nobody holds or waits for them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is a one-slot channel so a waiter can give up on ctx.
type sessionLock struct {
	slot chan struct{}
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// Lock blocks until the session is free or ctx is done. On success it
// returns the unlock func.
func (l *sessionLocks) Lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{slot: make(chan struct{}, 1)}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	select {
	case sl.slot <- struct{}{}:
		return func() {
			<-sl.slot
			l.release(id, sl)
		}, nil
	case <-ctx.Done():
		l.release(id, sl)
		return nil, ctx.Err()
	}
}

func (l *sessionLocks) release(id string, sl *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *sessionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
