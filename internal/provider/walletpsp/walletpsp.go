// Package walletpsp adapts a crypto-wallet PSP to the reconciliation core's
// Adapter contract, using a Stellar Horizon client to resolve a payment's
// on-chain transaction status by hash.
package walletpsp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/stellar/go-stellar-sdk/clients/horizonclient"

	"reconciler/internal/domain/payment"
	"reconciler/internal/provider"
)

// Adapter implements provider.Adapter for a Stellar-settled wallet PSP.
// token is the transaction hash the wallet PSP returned when the payment
// was submitted.
type Adapter struct {
	client     *horizonclient.Client
	horizonURL string
	timeout    time.Duration
}

// New builds a wallet-PSP adapter pointed at a single Horizon endpoint
// (testnet or a production instance, per deployment). horizonclient.Client
// takes no per-call context, so the call timeout is enforced through the
// HTTP client the SDK is constructed with.
func New(horizonURL string, timeout time.Duration) *Adapter {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Adapter{
		client: &horizonclient.Client{
			HorizonURL: horizonURL,
			HTTP:       &http.Client{Timeout: timeout},
		},
		horizonURL: horizonURL,
		timeout:    timeout,
	}
}

func (a *Adapter) Name() string { return "wallet-psp" }

func (a *Adapter) Status(ctx context.Context, token string, _ map[string]any) provider.Result {
	if token == "" {
		return provider.Result{Success: false, ErrorMessage: "wallet-psp: empty token"}
	}

	reqURL := a.horizonURL + "/transactions/" + token

	tx, err := a.client.TransactionDetail(token)
	if err != nil {
		// "Not found yet" and "Horizon is down" are indistinguishable
		// without parsing the problem-details body; both surface as
		// Success=false and count against the retry budget.
		return provider.Result{
			Success:       false,
			ErrorMessage:  "wallet-psp: " + err.Error(),
			RequestMethod: "GET",
			RequestURL:    reqURL,
		}
	}

	raw := "failed"
	mapped := payment.Failed
	if tx.Successful {
		raw = "successful"
		mapped = payment.Authorized
	}

	// TransactionDetail decodes straight into a Transaction struct and
	// exposes no raw-bytes or response-header accessor; re-marshaling it
	// is the closest available stand-in for the provider's actual
	// response body, and ResponseHeaders stays empty. The request is a
	// bare GET, so there is no request body to record either.
	rawPayload, _ := json.Marshal(tx)

	code := 200
	return provider.Result{
		Success:        true,
		ProviderStatus: raw,
		MappedStatus:   &mapped,
		ResponseCode:   &code,
		RawPayload:     rawPayload,
		RequestMethod:  "GET",
		RequestURL:     reqURL,
	}
}
