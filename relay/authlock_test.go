package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessagePermitsRunConcurrently(t *testing.T) {
	lock := NewAuthLock()
	ctx := context.Background()

	p1, err := lock.AcquireMessagePermit(ctx)
	require.NoError(t, err)
	p2, err := lock.AcquireMessagePermit(ctx)
	require.NoError(t, err)

	p1.Release()
	p2.Release()
}

func TestAuthGuardWaitsForInFlightSends(t *testing.T) {
	lock := NewAuthLock()

	inFlight, err := lock.AcquireMessagePermit(context.Background())
	require.NoError(t, err)

	guardCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = lock.AcquireAuthGuard(guardCtx)
	require.Error(t, err, "auth guard must not acquire while a message permit is outstanding")

	inFlight.Release()

	guard, err := lock.AcquireAuthGuard(context.Background())
	require.NoError(t, err)

	sendCtx, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, err = lock.AcquireMessagePermit(sendCtx)
	require.Error(t, err, "ordinary sends must block while the auth guard is held")

	guard.Release()

	p, err := lock.AcquireMessagePermit(context.Background())
	require.NoError(t, err)
	p.Release()
}
