package runtime

import (
	"context"
	"time"
)

// MaybeTimeout skips the timeout race entirely when d is zero (no timeout
// configured) and awaits fn directly, rather than racing against an
// effectively infinite timer.
func MaybeTimeout(ctx context.Context, rt Runtime, d time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	if d <= 0 {
		return fn(ctx)
	}
	return rt.Timeout(ctx, d, fn)
}
