// Package crm builds the canonical downstream CRM message and sends it
// over HTTP, the two halves of the CRM push queue's consumer side.
package crm

import (
	"encoding/json"

	"reconciler/internal/domain/payment"
)

// pagarPayload is the wire shape of a PAGAR notification. Field names are
// fixed by the CRM's own contract; this is the one place that shape is
// allowed to leak into the core.
type pagarPayload struct {
	PaymentID         int64  `json:"payment_id"`
	Provider          string `json:"provider"`
	Status            string `json:"status"`
	AmountMinor       int64  `json:"amount_minor"`
	AuthorizationCode string `json:"authorization_code,omitempty"`
	MerchantID        string `json:"merchant_id,omitempty"`
	CustomerID        string `json:"customer_id,omitempty"`
	ProductID         string `json:"product_id,omitempty"`
}

// BuildPagarPayload is a pure, deterministic function from a payment row
// to the frozen JSON body stored on the queue item at enqueue time.
// Merchant and customer identifiers are pulled out of the payment's opaque
// context bag; any shape the bag takes beyond those two keys is ignored.
func BuildPagarPayload(p payment.Payment) ([]byte, error) {
	out := pagarPayload{
		PaymentID:         p.ID,
		Provider:          p.Provider,
		Status:            string(p.Status),
		AmountMinor:       p.AmountMinor,
		AuthorizationCode: p.AuthorizationCode,
		ProductID:         p.ProductID,
	}
	if v, ok := p.Context["merchant_id"].(string); ok {
		out.MerchantID = v
	}
	if v, ok := p.Context["customer_id"].(string); ok {
		out.CustomerID = v
	}
	return json.Marshal(out)
}
