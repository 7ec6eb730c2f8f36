package lock

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLocker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	locker := NewFileLocker(dir)

	lock, acquired, err := locker.TryAcquire(context.TODO(), "importer:contacts")
	require.NoError(t, err)
	require.True(t, acquired)
	assert.FileExists(t, filepath.Join(dir, "importer%3Acontacts.lock"))

	_, acquired, err = NewFileLocker(dir).TryAcquire(context.TODO(), "importer:contacts")
	require.NoError(t, err)
	assert.False(t, acquired)

	other, acquired, err := locker.TryAcquire(context.TODO(), "importer:accounts")
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, other.Release(context.TODO()))

	require.NoError(t, lock.Release(context.TODO()))

	lock, acquired, err = locker.TryAcquire(context.TODO(), "importer:contacts")
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, lock.Release(context.TODO()))
}

func TestFileLockerInvalidDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "file")
	locker := NewFileLocker(dir)

	lock, acquired, err := locker.TryAcquire(context.TODO(), "a")
	require.NoError(t, err)
	require.True(t, acquired)
	defer lock.Release(context.TODO())

	_, _, err = NewFileLocker(filepath.Join(dir, "a.lock")).TryAcquire(context.TODO(), "b")
	assert.Error(t, err)
}
