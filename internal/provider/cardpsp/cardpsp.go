// Package cardpsp adapts a card-network PSP to the reconciliation core's
// Adapter contract, using Stripe's PaymentIntents API as the concrete
// integration.
package cardpsp

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/paymentintent"

	"reconciler/internal/domain/payment"
	"reconciler/internal/provider"
)

// statusMap is the static mapping from Stripe's PaymentIntent.Status
// vocabulary to the canonical set. A raw status missing here becomes a nil
// MappedStatus, never an error.
var statusMap = map[stripe.PaymentIntentStatus]payment.Status{
	stripe.PaymentIntentStatusRequiresPaymentMethod: payment.Pending,
	stripe.PaymentIntentStatusRequiresConfirmation:  payment.Pending,
	stripe.PaymentIntentStatusRequiresAction:        payment.ToConfirm,
	stripe.PaymentIntentStatusProcessing:            payment.ToConfirm,
	stripe.PaymentIntentStatusRequiresCapture:       payment.ToConfirm,
	stripe.PaymentIntentStatusSucceeded:             payment.Authorized,
	stripe.PaymentIntentStatusCanceled:              payment.Canceled,
}

// Adapter implements provider.Adapter for a Stripe-backed card PSP.
type Adapter struct {
	secretKey string
	timeout   time.Duration
}

// New builds a card-PSP adapter bound to a single Stripe secret key. The
// stripe-go client keys requests off the package-global stripe.Key, set on
// every call; deployments with more than one Stripe account need one
// process per account.
func New(secretKey string, timeout time.Duration) *Adapter {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Adapter{secretKey: secretKey, timeout: timeout}
}

func (a *Adapter) Name() string { return "card-psp" }

func (a *Adapter) Status(ctx context.Context, token string, _ map[string]any) provider.Result {
	if token == "" {
		return provider.Result{Success: false, ErrorMessage: "card-psp: empty token"}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reqURL := "https://api.stripe.com/v1/payment_intents/" + token
	reqHeaders := map[string]string{"Authorization": "Bearer " + a.secretKey}

	stripe.Key = a.secretKey
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	var pi *stripe.PaymentIntent
	op := func() error {
		var err error
		pi, err = paymentintent.Get(token, params)
		return err
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return provider.Result{
			Success:        false,
			ErrorMessage:   "card-psp: " + err.Error(),
			RequestMethod:  "GET",
			RequestURL:     reqURL,
			RequestHeaders: reqHeaders,
		}
	}

	raw := string(pi.Status)
	mapped, known := statusMap[pi.Status]
	var mappedPtr *payment.Status
	if known {
		mappedPtr = &mapped
	}

	// stripe-go keeps the exact bytes and headers the API returned on
	// every decoded resource via APIResource.LastResponse.
	code := 200
	var rawPayload []byte
	var respHeaders map[string][]string
	if pi.LastResponse != nil {
		rawPayload = pi.LastResponse.RawJSON
		respHeaders = pi.LastResponse.Header
		code = pi.LastResponse.StatusCode
	}
	return provider.Result{
		Success:           true,
		ProviderStatus:    raw,
		MappedStatus:      mappedPtr,
		ResponseCode:      &code,
		RawPayload:        rawPayload,
		AuthorizationCode: pi.ID,
		RequestMethod:     "GET",
		RequestURL:        reqURL,
		RequestHeaders:    reqHeaders,
		ResponseHeaders:   respHeaders,
	}
}
