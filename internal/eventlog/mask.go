// Package eventlog centralizes the one cross-cutting concern every outbound
// HTTP event log shares: masking secret-bearing headers before a request is
// persisted.
package eventlog

import "strings"

const maskValue = "***"

// maskedHeaders is the case-insensitive set of header names that must never
// appear in plaintext in a persisted log row.
var maskedHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"api-key":       true,
}

// MaskHeaders returns a copy of headers with masked-header values replaced
// by a fixed placeholder. The input is never mutated.
func MaskHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if maskedHeaders[strings.ToLower(k)] {
			out[k] = maskValue
		} else {
			out[k] = v
		}
	}
	return out
}

// MaskHeaderValues is MaskHeaders for multi-valued header maps (the
// http.Header shape response headers arrive in). The input is never
// mutated.
func MaskHeaderValues(headers map[string][]string) map[string][]string {
	if headers == nil {
		return nil
	}
	out := make(map[string][]string, len(headers))
	for k, vs := range headers {
		if maskedHeaders[strings.ToLower(k)] {
			out[k] = []string{maskValue}
		} else {
			out[k] = append([]string(nil), vs...)
		}
	}
	return out
}
