package provider

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerAdapter wraps an Adapter with a per-provider circuit breaker. A
// PSP outage trips the breaker open so the batch stops paying a full
// adapter timeout for every payment still being retried against a dead
// provider. The breaker is process-local and makes no cross-process claim.
type BreakerAdapter struct {
	inner Adapter
	cb    *gobreaker.CircuitBreaker
}

// WrapWithBreaker constructs a breaker-guarded adapter. Five consecutive
// transport failures trip the breaker open for a cooldown window; requests
// made while open short-circuit to Result{Success:false} without touching
// the network.
func WrapWithBreaker(a Adapter) *BreakerAdapter {
	st := gobreaker.Settings{
		Name:        a.Name(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("provider circuit breaker state changed")
		},
	}
	return &BreakerAdapter{inner: a, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *BreakerAdapter) Name() string { return b.inner.Name() }

func (b *BreakerAdapter) Status(ctx context.Context, token string, paymentCtx map[string]any) Result {
	out, err := b.cb.Execute(func() (any, error) {
		res := b.inner.Status(ctx, token, paymentCtx)
		if !res.Success {
			return res, errTransportFailure
		}
		return res, nil
	})
	if err != nil {
		if res, ok := out.(Result); ok {
			return res
		}
		return Result{Success: false, ErrorMessage: "circuit breaker open: " + err.Error()}
	}
	return out.(Result)
}

// errTransportFailure signals gobreaker to count the call as a failure
// without discarding the normalized Result it produced.
var errTransportFailure = breakerFailure{}

type breakerFailure struct{}

func (breakerFailure) Error() string { return "adapter transport failure" }
