package importer

import "context"

// LockPrefix prefixes the pipeline name to build the lock key of a run.
const LockPrefix = "importer:"

// Locker provides mutual exclusion by key.
type Locker interface {
	// TryAcquire does not block. It returns false if the key is locked by someone else.
	TryAcquire(ctx context.Context, key string) (Lock, bool, error)
}

// Lock is an acquired lock.
type Lock interface {
	Release(ctx context.Context) error
}

func lockKey(pipeline string) string {
	return LockPrefix + pipeline
}
