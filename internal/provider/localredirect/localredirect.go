// Package localredirect adapts a local redirect-based checkout PSP (the
// kind that issues a hosted-page or STK-style push and is polled
// afterwards for the resulting transaction's outcome) to the
// reconciliation core's Adapter contract. The provider exposes a Daraja-
// style API: an OAuth client-credentials token endpoint and a transaction
// status query, with no published client library, so the integration is
// plain net/http with the token cached per adapter instance.
package localredirect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"reconciler/internal/domain/payment"
	"reconciler/internal/provider"
)

func basicB64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

// statusMap mirrors the raw result-code vocabulary this class of provider
// uses for its transaction status endpoint.
var statusMap = map[string]payment.Status{
	"0":    payment.Authorized, // ResultCode 0 == succeeded
	"1032": payment.Canceled,   // request cancelled by the user
	"1":    payment.Failed,     // insufficient funds
	"2001": payment.Failed,     // wrong PIN, etc.
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

// Adapter implements provider.Adapter for a local redirect-checkout PSP.
type Adapter struct {
	baseURL      string
	consumerKey  string
	consumerSecr string
	httpClient   *http.Client

	mu    sync.Mutex
	token *accessToken
}

// New builds a local-redirect adapter for a single merchant credential set.
func New(baseURL, consumerKey, consumerSecret string, timeout time.Duration) *Adapter {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Adapter{
		baseURL:      baseURL,
		consumerKey:  consumerKey,
		consumerSecr: consumerSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (a *Adapter) Name() string { return "local-redirect-psp" }

// authToken returns a cached OAuth token, refreshing it when expired. The
// mutex keeps the cache safe when one adapter instance is shared across
// goroutines.
func (a *Adapter) authToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != nil && time.Now().Before(a.token.expiresAt) {
		return a.token.value, nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", a.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.consumerKey, a.consumerSecr)

	res, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("local-redirect-psp: auth request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(res.Body)
		return "", fmt.Errorf("local-redirect-psp: auth failed: %s; body=%s", res.Status, string(b))
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("local-redirect-psp: decode auth response: %w", err)
	}

	a.token = &accessToken{value: out.AccessToken, expiresAt: time.Now().Add(50 * time.Minute)}
	return a.token.value, nil
}

func (a *Adapter) Status(ctx context.Context, token string, paymentCtx map[string]any) provider.Result {
	if token == "" {
		return provider.Result{Success: false, ErrorMessage: "local-redirect-psp: empty token"}
	}

	accessToken, err := a.authToken(ctx)
	if err != nil {
		return provider.Result{Success: false, ErrorMessage: err.Error()}
	}

	shortcode, _ := paymentCtx["shortcode"].(string)
	passkey, _ := paymentCtx["passkey"].(string)
	ts := time.Now().UTC().Format("20060102150405")
	password := ""
	if shortcode != "" && passkey != "" {
		password = basicB64(shortcode + passkey + ts)
	}

	payload := map[string]any{
		"BusinessShortCode": shortcode,
		"Password":          password,
		"Timestamp":         ts,
		"CheckoutRequestID": token,
	}
	body, _ := json.Marshal(payload)

	reqURL := a.baseURL + "/mpesa/stkpushquery/v1/query"
	reqHeaders := map[string]string{"Content-Type": "application/json", "Authorization": "Bearer " + accessToken}

	req, err := http.NewRequestWithContext(ctx, "POST", reqURL, bytes.NewReader(body))
	if err != nil {
		return provider.Result{Success: false, ErrorMessage: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	res, err := a.httpClient.Do(req)
	if err != nil {
		return provider.Result{
			Success:        false,
			ErrorMessage:   "local-redirect-psp: " + err.Error(),
			RequestMethod:  "POST",
			RequestURL:     reqURL,
			RequestHeaders: reqHeaders,
			RequestBody:    body,
		}
	}
	defer res.Body.Close()

	respBody, _ := io.ReadAll(res.Body)
	code := res.StatusCode
	if res.StatusCode != http.StatusOK {
		return provider.Result{
			Success:         false,
			ResponseCode:    &code,
			RawPayload:      respBody,
			ErrorMessage:    fmt.Sprintf("local-redirect-psp: status query failed: %s", res.Status),
			RequestMethod:   "POST",
			RequestURL:      reqURL,
			RequestHeaders:  reqHeaders,
			RequestBody:     body,
			ResponseHeaders: res.Header,
		}
	}

	var out struct {
		ResultCode string `json:"ResultCode"`
		ResultDesc string `json:"ResultDesc"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return provider.Result{
			Success:         false,
			ResponseCode:    &code,
			RawPayload:      respBody,
			ErrorMessage:    "local-redirect-psp: decode response: " + err.Error(),
			RequestMethod:   "POST",
			RequestURL:      reqURL,
			RequestHeaders:  reqHeaders,
			RequestBody:     body,
			ResponseHeaders: res.Header,
		}
	}

	mapped, known := statusMap[out.ResultCode]
	var mappedPtr *payment.Status
	if known {
		mappedPtr = &mapped
	}

	return provider.Result{
		Success:         true,
		ProviderStatus:  out.ResultCode,
		MappedStatus:    mappedPtr,
		ResponseCode:    &code,
		RawPayload:      respBody,
		StatusReason:    out.ResultDesc,
		RequestMethod:   "POST",
		RequestURL:      reqURL,
		RequestHeaders:  reqHeaders,
		RequestBody:     body,
		ResponseHeaders: res.Header,
	}
}
