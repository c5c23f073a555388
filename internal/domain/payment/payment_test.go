package payment

import (
	"testing"
	"time"
)

func TestValidateInvariant_TerminalMustHaveExactlyOneTimestamp(t *testing.T) {
	now := time.Now()

	p := Payment{ID: 1, Status: Authorized, FirstAuthorizedAt: &now}
	if err := p.ValidateInvariant(); err != nil {
		t.Fatalf("expected valid AUTHORIZED payment, got %v", err)
	}

	p2 := Payment{ID: 2, Status: Authorized}
	if err := p2.ValidateInvariant(); err == nil {
		t.Fatal("expected error: AUTHORIZED with no terminal timestamp set")
	}

	p3 := Payment{ID: 3, Status: Authorized, FirstAuthorizedAt: &now, FailedAt: &now}
	if err := p3.ValidateInvariant(); err == nil {
		t.Fatal("expected error: two terminal timestamps set at once")
	}
}

func TestValidateInvariant_NonTerminalMustHaveNoTimestamp(t *testing.T) {
	now := time.Now()

	p := Payment{ID: 1, Status: Pending}
	if err := p.ValidateInvariant(); err != nil {
		t.Fatalf("expected valid PENDING payment, got %v", err)
	}

	p2 := Payment{ID: 2, Status: ToConfirm, FailedAt: &now}
	if err := p2.ValidateInvariant(); err == nil {
		t.Fatal("expected error: non-terminal status with a terminal timestamp set")
	}
}

func TestIsNonTerminal(t *testing.T) {
	for _, s := range []Status{Pending, ToConfirm} {
		if !IsNonTerminal(s) || IsTerminal(s) {
			t.Fatalf("%s must be non-terminal", s)
		}
	}
	for _, s := range []Status{Authorized, Failed, Canceled, Refunded, Abandoned} {
		if IsNonTerminal(s) || !IsTerminal(s) {
			t.Fatalf("%s must be terminal", s)
		}
	}
}
