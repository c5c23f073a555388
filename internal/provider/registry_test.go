package provider

import (
	"context"
	"testing"
)

type stubAdapter struct{ name string }

func (s stubAdapter) Name() string { return s.name }
func (s stubAdapter) Status(ctx context.Context, token string, paymentCtx map[string]any) Result {
	return Result{Success: true}
}

func TestRegistry_GetAndProviders(t *testing.T) {
	r := NewRegistry()
	r.Register("card-psp", stubAdapter{name: "card-psp"})
	r.Register("wallet-psp", stubAdapter{name: "wallet-psp"})

	a, err := r.Get("card-psp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name() != "card-psp" {
		t.Fatalf("got wrong adapter: %s", a.Name())
	}

	if _, err := r.Get("unknown-psp"); err == nil {
		t.Fatal("expected an error for an unregistered provider key")
	}

	providers := r.Providers()
	if len(providers) != 2 {
		t.Fatalf("expected 2 registered providers, got %d", len(providers))
	}
}
