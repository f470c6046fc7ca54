package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalLockSerializesPerKey(t *testing.T) {
	l := NewLocalLock()

	release, err := l.Acquire(context.Background(), "spaceA")
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), "spaceA")
	require.ErrorIs(t, err, ErrRunInProgress)

	release()
	release2, err := l.Acquire(context.Background(), "spaceA")
	require.NoError(t, err)
	release2()
}

func TestLocalLockKeysAreIndependent(t *testing.T) {
	l := NewLocalLock()

	releaseA, err := l.Acquire(context.Background(), "spaceA")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := l.Acquire(context.Background(), "spaceB")
	require.NoError(t, err)
	releaseB()
}

func TestLocalLockReleaseIsIdempotentPerAcquire(t *testing.T) {
	l := NewLocalLock()

	release, err := l.Acquire(context.Background(), "spaceA")
	require.NoError(t, err)
	release()
	release()

	again, err := l.Acquire(context.Background(), "spaceA")
	require.NoError(t, err)
	again()
}
