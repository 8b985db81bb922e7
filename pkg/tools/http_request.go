package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"
)

const (
	DefaultHTTPTimeout  = 30
	maxHTTPAttempts     = 10
	maxHTTPResponseSize = 1 << 20
)

var httpMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

// HTTPRequest calls an HTTP endpoint, retrying transport errors and 5xx
// responses.
type HTTPRequest struct {
	Client *http.Client
}

// HTTPStatusError is returned for responses with a status of 400 or above.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func (HTTPRequest) Name() string {
	return "http_request"
}

func (HTTPRequest) Description() string {
	return "Performs an HTTP request and returns the status, headers and body"
}

func (HTTPRequest) Parameters() []Parameter {
	return []Parameter{
		{Name: "url", Type: TypeString, Description: "URL to request", Required: true},
		{Name: "method", Type: TypeString, Description: "HTTP method", Default: "GET"},
		{Name: "headers", Type: TypeObject, Description: "Request headers"},
		{Name: "body", Type: TypeString, Description: "Request body"},
		{Name: "timeout", Type: TypeNumber, Description: "Timeout in seconds", Default: DefaultHTTPTimeout},
		{Name: "attempts", Type: TypeNumber, Description: "Attempts including the first request", Default: 1},
		{Name: "delay_ms", Type: TypeNumber, Description: "Delay between attempts in milliseconds", Default: 0},
	}
}

func (h HTTPRequest) Invoke(ctx context.Context, args map[string]any) (any, error) {
	url, _ := args["url"].(string)
	method, _ := args["method"].(string)
	method = strings.ToUpper(method)
	details := map[string]any{"url": url, "method": method}

	if !slices.Contains(httpMethods, method) {
		return nil, invocationErrorf(details, "invalid HTTP method: %s", method)
	}

	timeout := intArg(args, "timeout", DefaultHTTPTimeout)
	if timeout < 1 || timeout > 300 {
		return nil, invocationErrorf(details, "timeout must be between 1 and 300 seconds")
	}

	attempts := intArg(args, "attempts", 1)
	if attempts < 1 || attempts > maxHTTPAttempts {
		return nil, invocationErrorf(details, "attempts must be between 1 and %d", maxHTTPAttempts)
	}

	delay := time.Duration(max(intArg(args, "delay_ms", 0), 0)) * time.Millisecond

	client := h.Client
	if client == nil {
		client = &http.Client{}
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		result, err := h.do(reqCtx, client, method, url, args)

		cancel()

		if err == nil {
			return result, nil
		}

		lastErr = err

		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError {
			break
		}
	}

	details["error_type"] = "request_failed"

	return nil, &InvocationError{Message: lastErr.Error(), Details: details}
}

func (HTTPRequest) do(ctx context.Context, client *http.Client, method, url string, args map[string]any) (map[string]any, error) {
	body, _ := args["body"].(string)

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if headers, ok := args["headers"].(map[string]any); ok {
		for key, value := range headers {
			req.Header.Set(key, fmt.Sprint(value))
		}
	}

	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        string(respBody),
	}

	var jsonBody any
	if json.Unmarshal(respBody, &jsonBody) == nil {
		result["json"] = jsonBody
	}

	return result, nil
}
