// Package provider defines the narrow adapter contract every PSP
// integration implements: a single status-check operation dispatched by
// the payment's provider key. Each adapter ships its own static mapping
// from the provider's raw status vocabulary to the canonical set.
package provider

import (
	"context"

	"reconciler/internal/domain/payment"
)

// Result is the normalized outcome of one Status call, regardless of
// which PSP produced it. Success is false only for a transport/parse
// failure; a call that completed but returned a status the adapter
// doesn't recognize is still Success=true with a nil MappedStatus.
type Result struct {
	Success           bool
	ProviderStatus    string // raw status string from the PSP, empty if unknown
	MappedStatus      *payment.Status
	ResponseCode      *int
	RawPayload        []byte
	ErrorMessage      string
	AuthorizationCode string
	StatusReason      string

	// RequestMethod, RequestURL, RequestHeaders and RequestBody describe
	// the actual outbound call the adapter made (or attempted), and
	// ResponseHeaders what came back, so the provider event log carries
	// the real exchange rather than a value synthesized by the caller.
	// Left zero when the call never went out (e.g. an empty-token
	// short-circuit) or when the provider's SDK exposes no accessor for
	// it. Adapters report the real header sets unmasked; masking happens
	// in the event-log writer.
	RequestMethod   string
	RequestURL      string
	RequestHeaders  map[string]string
	RequestBody     []byte
	ResponseHeaders map[string][]string
}

// Adapter is the one operation every PSP integration must implement.
// Adapters must never panic; every failure becomes Result{Success: false}
// with ErrorMessage populated.
type Adapter interface {
	// Name identifies the adapter for logging and the provider-key lookup
	// in Registry.
	Name() string

	// Status checks a payment's state with the PSP. token is the
	// payment's provider-side reference (may be empty for very new
	// records); paymentCtx is the payment's opaque context bag, carried
	// through in case the adapter needs it to address the right
	// sub-account or merchant.
	Status(ctx context.Context, token string, paymentCtx map[string]any) Result
}
