package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLifecycleExitThenWaitReturnsCode(t *testing.T) {
	l := NewLifecycle()
	require.False(t, l.IsZombie())

	l.Exit(7)
	require.True(t, l.IsZombie())

	code, err := l.Wait(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 7, code)
}

func TestLifecycleExitIsIdempotent(t *testing.T) {
	l := NewLifecycle()
	l.Exit(1)
	l.Exit(2)
	code, err := l.Wait(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, code, "only the first Exit call may set the code")
}

func TestLifecycleWaitBlocksUntilExit(t *testing.T) {
	l := NewLifecycle()
	done := make(chan int32, 1)
	go func() {
		code, err := l.Wait(context.Background())
		require.NoError(t, err)
		done <- code
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Exit was called")
	case <-time.After(20 * time.Millisecond):
	}

	l.Exit(9)
	select {
	case code := <-done:
		require.EqualValues(t, 9, code)
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Exit")
	}
}

func TestLifecycleWaitRespectsContextCancellation(t *testing.T) {
	l := NewLifecycle()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Wait(ctx)
	require.Error(t, err)
}

func TestLifecycleCloneSeedsFromZombieSource(t *testing.T) {
	l := NewLifecycle()
	l.Exit(3)
	clone := l.Clone()
	require.True(t, clone.IsZombie())
	code, err := clone.Wait(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, code)
}
