package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPTransport posts messages as JSON to a push gateway:
//
//	POST {endpoint}
//	{"token": "...", "title": "...", "body": "...", "data": {...}}
//
// The gateway answers {"success": true} or
// {"success": false, "error_code": "UnregisteredToken", "error": "..."}.
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPTransport(endpoint, apiKey string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type gatewayResponse struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code"`
	Error     string `json:"error"`
}

func (t *HTTPTransport) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return NewError(CodeInvalidRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return NewError(CodeInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Classify(err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var gr gatewayResponse
	_ = json.Unmarshal(raw, &gr)

	// Only the gateway's own error code marks a token dead. A bare 404 or
	// 410 usually means a wrong endpoint and must reach the breaker.
	switch {
	case gr.ErrorCode == CodeUnregisteredToken:
		return NewError(CodeUnregisteredToken, fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(gr.Error)))
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return NewError(CodeUnavailable, fmt.Errorf("gateway status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewError(CodeRateLimited, fmt.Errorf("gateway status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return NewError(CodeUnavailable, fmt.Errorf("gateway status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return NewError(CodeInvalidRequest, fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(gr.Error)))
	}

	if !gr.Success {
		code := gr.ErrorCode
		if code == "" {
			code = CodeUnknown
		}
		return NewError(code, fmt.Errorf("gateway rejected message: %s", gr.Error))
	}
	return nil
}
