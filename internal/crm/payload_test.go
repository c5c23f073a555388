package crm

import (
	"encoding/json"
	"testing"

	"reconciler/internal/domain/payment"
)

func TestBuildPagarPayload_ExtractsContextAndIsDeterministic(t *testing.T) {
	p := payment.Payment{
		ID:                7,
		Provider:          "card-psp",
		Status:            payment.Authorized,
		AmountMinor:       5000,
		AuthorizationCode: "auth_123",
		ProductID:         "prod_9",
		Context: map[string]any{
			"merchant_id": "m-1",
			"customer_id": "c-2",
			"unrelated":   "ignored",
		},
	}

	first, err := BuildPagarPayload(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := BuildPagarPayload(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(first) != string(second) {
		t.Fatal("BuildPagarPayload must be deterministic for the same payment")
	}

	var decoded map[string]any
	if err := json.Unmarshal(first, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded["amount_minor"].(float64) != 5000 {
		t.Fatalf("expected amount_minor=5000 verbatim, got %v", decoded["amount_minor"])
	}
	if decoded["merchant_id"] != "m-1" || decoded["customer_id"] != "c-2" {
		t.Fatalf("expected merchant_id/customer_id pulled from context, got %v", decoded)
	}
	if _, present := decoded["unrelated"]; present {
		t.Fatal("payload must not leak unrelated context keys")
	}
	if decoded["status"] != "AUTHORIZED" {
		t.Fatalf("expected canonical status in payload, got %v", decoded["status"])
	}
}

func TestBuildPagarPayload_MissingContextKeysAreOmitted(t *testing.T) {
	p := payment.Payment{ID: 1, Provider: "wallet-psp", Status: payment.Authorized, AmountMinor: 100}
	body, err := BuildPagarPayload(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if _, present := decoded["merchant_id"]; present {
		t.Fatal("absent merchant_id must be omitted, not empty-stringed")
	}
}
