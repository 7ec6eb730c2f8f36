package lock

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/raffis/importer/pkg/importer"
)

// FileLocker locks keys with advisory file locks within a directory.
// It excludes runs across processes sharing the same directory on one host.
type FileLocker struct {
	dir string
}

func NewFileLocker(dir string) *FileLocker {
	return &FileLocker{
		dir: dir,
	}
}

func (l *FileLocker) TryAcquire(_ context.Context, key string) (importer.Lock, bool, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(l.path(key))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock %q: %w", fl.Path(), err)
	}

	if !locked {
		return nil, false, nil
	}

	return &fileLock{flock: fl}, true, nil
}

func (l *FileLocker) path(key string) string {
	return filepath.Join(l.dir, url.QueryEscape(key)+".lock")
}

type fileLock struct {
	flock *flock.Flock
}

func (l *fileLock) Release(_ context.Context) error {
	return l.flock.Unlock()
}
