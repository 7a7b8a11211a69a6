package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/solentra/ordersync-backend/internal/syncengine"
)

const maxResponseBytes = 1 << 20

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type jsonResponse struct {
	Status int
	Body   []byte
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func doJSON(ctx context.Context, client httpDoer, method, url string, headers map[string]string, body []byte) (*jsonResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, url, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return doRaw(client, req)
}

func doRaw(client httpDoer, req *http.Request) (*jsonResponse, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &jsonResponse{Status: resp.StatusCode, Body: payload}, nil
}

// upstreamError converts a non-2xx response into the failure the engine
// records: the remote error code when the body carries one, the HTTP status
// otherwise.
func upstreamError(system string, resp *jsonResponse) *syncengine.CallError {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil && body.Code != "" {
		message := body.Message
		if message == "" {
			message = fmt.Sprintf("%s rejected the request", system)
		}
		return &syncengine.CallError{Code: body.Code, Message: message}
	}
	return &syncengine.CallError{
		Code:    fmt.Sprintf("HTTP_%d", resp.Status),
		Message: fmt.Sprintf("%s responded with status %d", system, resp.Status),
	}
}

// transportError wraps a network-level failure (DNS, TLS, timeout) so it is
// recorded like any other external failure.
func transportError(system string, err error) *syncengine.CallError {
	return &syncengine.CallError{
		Code:    fmt.Sprintf("%s_UNREACHABLE", system),
		Message: err.Error(),
	}
}
