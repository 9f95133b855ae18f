package lockfile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockAndUnlock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	l := New(dir, "active")
	assert.Equal(t, filepath.Join(dir, "active.lock"), l.Path())

	require.NoError(t, l.Lock(context.Background()))
	assert.True(t, l.Locked())

	require.NoError(t, l.Unlock())
	assert.False(t, l.Locked())
	require.NoError(t, l.Unlock(), "second unlock is a no-op")
}

func TestSecondHolderIsBlocked(t *testing.T) {
	dir := t.TempDir()
	first := New(dir, "active")
	second := New(dir, "active")

	require.NoError(t, first.Lock(context.Background()))
	defer first.Unlock()

	ok, err := second.TryLock()
	require.NoError(t, err)
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	err = second.Lock(ctx)
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, first.Unlock())
	ok, err = second.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock())
}
