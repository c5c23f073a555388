package reconcile

import (
	"testing"

	"reconciler/internal/domain/payment"
	"reconciler/internal/provider"
)

func strPtr(s payment.Status) *payment.Status { return &s }

func TestDecide_AuthorizedTransitionEnqueues(t *testing.T) {
	result := provider.Result{Success: true, MappedStatus: strPtr(payment.Authorized)}
	out := decide(payment.ToConfirm, 1, 4, result, nil)

	if out.NewStatus == nil || *out.NewStatus != payment.Authorized {
		t.Fatalf("expected transition to AUTHORIZED, got %+v", out)
	}
	if !out.Enqueue {
		t.Fatal("expected AUTHORIZED transition to enqueue a CRM push")
	}
	if out.Abandon {
		t.Fatal("did not expect abandonment on a successful transition")
	}
}

func TestDecide_OtherTerminalTransitionDoesNotEnqueue(t *testing.T) {
	result := provider.Result{Success: true, MappedStatus: strPtr(payment.Canceled)}
	out := decide(payment.ToConfirm, 1, 4, result, nil)

	if out.NewStatus == nil || *out.NewStatus != payment.Canceled {
		t.Fatalf("expected transition to CANCELED, got %+v", out)
	}
	if out.Enqueue {
		t.Fatal("a non-AUTHORIZED terminal transition must not enqueue a CRM push")
	}
}

func TestDecide_SameStatusIsNotATransition(t *testing.T) {
	result := provider.Result{Success: true, MappedStatus: strPtr(payment.Pending)}
	out := decide(payment.Pending, 1, 4, result, nil)

	if out.NewStatus != nil {
		t.Fatalf("expected no transition when mapped status equals current, got %+v", out)
	}
}

func TestDecide_UnknownStatusRecordsNoTransition(t *testing.T) {
	// Adapter saw an unrecognized raw status: success=true, mapped=nil.
	result := provider.Result{Success: true, MappedStatus: nil, ProviderStatus: "weird"}
	out := decide(payment.Pending, 1, 4, result, nil)

	if out.NewStatus != nil || out.Abandon {
		t.Fatalf("unknown status short of the retry budget must not transition or abandon, got %+v", out)
	}
}

func TestDecide_AbandonsOnRetryExhaustion(t *testing.T) {
	// checkCount == len(offsets): this was the last allowed attempt and it failed.
	result := provider.Result{Success: false, ErrorMessage: "timeout"}
	out := decide(payment.Pending, 3, 3, result, nil)

	if !out.Abandon {
		t.Fatalf("expected abandonment once check count reaches the offsets length, got %+v", out)
	}
	if out.AbandonReason != "reconcile attempts exhausted" {
		t.Fatalf("unexpected abandon reason %q", out.AbandonReason)
	}
}

func TestDecide_RemainsNonTerminalBelowExhaustion(t *testing.T) {
	// checkCount == len(offsets) - 1: one retry still remains.
	result := provider.Result{Success: false, ErrorMessage: "timeout"}
	out := decide(payment.Pending, 2, 3, result, nil)

	if out.Abandon {
		t.Fatal("must not abandon before the retry budget is exhausted")
	}
	if out.NewStatus != nil {
		t.Fatal("a failed call never transitions the payment directly")
	}
}

func TestDecide_UnmappedStatusCountsTowardExhaustion(t *testing.T) {
	result := provider.Result{Success: true, MappedStatus: nil, ProviderStatus: "weird"}
	out := decide(payment.Pending, 3, 3, result, nil)

	if !out.Abandon {
		t.Fatalf("an unmapped status at the exhaustion boundary must abandon, got %+v", out)
	}
}

func TestDecide_ConfiguredTerminalOptInEnqueues(t *testing.T) {
	extra := map[payment.Status]bool{payment.Canceled: true}

	result := provider.Result{Success: true, MappedStatus: strPtr(payment.Canceled)}
	out := decide(payment.ToConfirm, 1, 4, result, extra)
	if !out.Enqueue {
		t.Fatal("a terminal status opted in by configuration must enqueue a CRM push")
	}

	result = provider.Result{Success: true, MappedStatus: strPtr(payment.Failed)}
	out = decide(payment.ToConfirm, 1, 4, result, extra)
	if out.Enqueue {
		t.Fatal("a terminal status not opted in must still not enqueue")
	}
}
