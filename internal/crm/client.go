package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PushResult is the normalized outcome of one CRM POST, mirroring the
// shape provider.Result gives the poller so both loops log the same way.
type PushResult struct {
	Success      bool
	StatusCode   int
	CRMID        string
	RequestBody  []byte
	ResponseBody []byte
	LatencyMS    int64
	ErrorMessage string
}

// Client posts PAGAR payloads to the configured CRM endpoint with bearer
// authentication.
type Client struct {
	baseURL    string
	pagarPath  string
	bearer     string
	httpClient *http.Client
}

func NewClient(baseURL, pagarPath, bearer string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		pagarPath:  pagarPath,
		bearer:     bearer,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// RequestHeaders returns the headers this client sends, for audit logging
// by the caller. Masking before persistence is the caller's job.
func (c *Client) RequestHeaders() map[string]string {
	return map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + c.bearer,
	}
}

func (c *Client) URL() string { return c.baseURL + c.pagarPath }

// Pagar posts one frozen payload. Any 2xx is success; the response body
// may echo an identifier, persisted as the queue item's crm_id.
func (c *Client) Pagar(ctx context.Context, payload []byte) PushResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(), bytes.NewReader(payload))
	if err != nil {
		return PushResult{Success: false, RequestBody: payload, ErrorMessage: err.Error()}
	}
	for k, v := range c.RequestHeaders() {
		req.Header.Set(k, v)
	}

	start := time.Now()
	res, err := c.httpClient.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return PushResult{Success: false, RequestBody: payload, LatencyMS: latency, ErrorMessage: fmt.Sprintf("crm: %v", err)}
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	result := PushResult{
		StatusCode:   res.StatusCode,
		RequestBody:  payload,
		ResponseBody: body,
		LatencyMS:    latency,
		Success:      res.StatusCode >= 200 && res.StatusCode < 300,
	}
	if !result.Success {
		result.ErrorMessage = fmt.Sprintf("crm: non-2xx response: %s", res.Status)
		return result
	}

	var echoed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &echoed); err == nil {
		result.CRMID = echoed.ID
	}
	return result
}
