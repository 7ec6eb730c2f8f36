package importer

import (
	"context"
	"sync"
)

// localLocker locks keys within the current process only.
type localLocker struct {
	keys map[string]struct{}
	mu   sync.Mutex
}

// NewLocalLocker returns a Locker which only excludes runs within the current process.
func NewLocalLocker() Locker {
	return &localLocker{
		keys: make(map[string]struct{}),
	}
}

func (l *localLocker) TryAcquire(_ context.Context, key string) (Lock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.keys[key]; ok {
		return nil, false, nil
	}

	l.keys[key] = struct{}{}
	return &localLock{locker: l, key: key}, true, nil
}

type localLock struct {
	locker *localLocker
	key    string
	once   sync.Once
}

func (l *localLock) Release(_ context.Context) error {
	l.once.Do(func() {
		l.locker.mu.Lock()
		defer l.locker.mu.Unlock()

		delete(l.locker.keys, l.key)
	})

	return nil
}
