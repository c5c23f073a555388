package provider

import (
	"context"
	"testing"
)

// flakyAdapter always returns a transport failure, letting the test drive
// the wrapped breaker open without a real PSP.
type flakyAdapter struct{ calls int }

func (f *flakyAdapter) Name() string { return "flaky-psp" }
func (f *flakyAdapter) Status(ctx context.Context, token string, paymentCtx map[string]any) Result {
	f.calls++
	return Result{Success: false, ErrorMessage: "simulated transport failure"}
}

func TestBreakerAdapter_TripsOpenAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyAdapter{}
	adapter := WrapWithBreaker(inner)

	// Five consecutive failures trip the breaker (ReadyToTrip threshold).
	for i := 0; i < 5; i++ {
		res := adapter.Status(context.Background(), "tok", nil)
		if res.Success {
			t.Fatalf("call %d: expected a failure result", i)
		}
	}
	callsBeforeOpen := inner.calls

	// Once open, further calls must short-circuit without reaching the
	// inner adapter.
	res := adapter.Status(context.Background(), "tok", nil)
	if res.Success {
		t.Fatal("expected short-circuited failure once the breaker is open")
	}
	if inner.calls != callsBeforeOpen {
		t.Fatalf("breaker should not have forwarded the call to the inner adapter once open: calls went from %d to %d", callsBeforeOpen, inner.calls)
	}
}

func TestBreakerAdapter_PassesThroughSuccess(t *testing.T) {
	inner := stubAdapter{name: "card-psp"}
	adapter := WrapWithBreaker(inner)

	res := adapter.Status(context.Background(), "tok", nil)
	if !res.Success {
		t.Fatal("expected success to pass through unaffected")
	}
	if adapter.Name() != "card-psp" {
		t.Fatalf("expected Name() to delegate to the inner adapter, got %s", adapter.Name())
	}
}
