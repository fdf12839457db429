package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asmogo/nostrelay/relay"
)

func TestRequestDefaults(t *testing.T) {
	p := New()
	req := p.NewRequest(NewBroadcast(nil))
	require.Equal(t, defaultRequestTimeout, req.timeout)
	require.Equal(t, relay.PolicyExitOnEose(), req.policy)
}

func TestRequestChaining(t *testing.T) {
	p := New()
	req := p.NewRequest(NewBroadcast(nil)).
		Timeout(5 * time.Second).
		Policy(relay.PolicyWaitForEvents(3))

	require.Equal(t, 5*time.Second, req.timeout)
	require.Equal(t, relay.PolicyWaitForEvents(3), req.policy)
}

func TestRequestPanicsOnSecondUse(t *testing.T) {
	p := New()
	req := p.NewRequest(NewBroadcast(nil)).Timeout(10 * time.Millisecond)

	ctx := context.Background()
	_, _ = req.Fetch(ctx)

	require.Panics(t, func() {
		_, _ = req.Fetch(ctx)
	})
}
