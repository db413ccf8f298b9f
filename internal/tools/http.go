package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/steward-dev/steward/internal/backend"
)

const defaultMaxResponseSize int64 = 10 * 1024 * 1024 // 10MB

// HTTPFetchTool fetches a URL over HTTP(S) with SSRF protection. It always
// runs in-process: network placement controls gating, not where the dial
// happens, since the safe transport already confines it.
type HTTPFetchTool struct {
	client      *http.Client
	maxRespSize int64
}

// NewHTTPFetchTool creates the http_fetch executor with a SSRF-safe transport.
func NewHTTPFetchTool() *HTTPFetchTool {
	return &HTTPFetchTool{
		client: &http.Client{
			Transport: NewSafeTransport(),
		},
		maxRespSize: defaultMaxResponseSize,
	}
}

// HTTPFetchDefinition describes the http_fetch tool to the backend.
func HTTPFetchDefinition() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        "http_fetch",
		Description: "Fetch a public HTTP or HTTPS URL and return the response body.",
		InputSchema: objectSchema([]string{"url"}, map[string]any{
			"url":    map[string]any{"type": "string"},
			"method": map[string]any{"type": "string"},
		}),
	}
}

func (t *HTTPFetchTool) Execute(ctx context.Context, input map[string]any, _ Placement) (string, error) {
	rawURL, err := stringInput(input, "url")
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("http_fetch: invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("http_fetch: scheme %q not allowed", parsed.Scheme)
	}

	method := http.MethodGet
	if v, ok := input["method"].(string); ok && v != "" {
		method = strings.ToUpper(v)
	}
	if method != http.MethodGet && method != http.MethodHead {
		return "", fmt.Errorf("http_fetch: method %q not allowed", method)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("http_fetch: create request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http_fetch: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, truncated, err := ReadBody(resp.Body, t.maxRespSize)
	if err != nil {
		return "", fmt.Errorf("http_fetch: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("http_fetch: status %d: %s", resp.StatusCode, string(body))
	}

	result := SafeBodyString(body, resp.Header.Get("Content-Type"))
	if truncated {
		result += "\n[response body truncated at 10MB limit]"
	}
	return result, nil
}

// ReadBody reads the response body with a size limit.
// Returns (data, truncated, error).
func ReadBody(body io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		limit = defaultMaxResponseSize
	}
	lr := io.LimitReader(body, limit+1) // read one extra byte to detect truncation
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// SafeBodyString converts an HTTP response body to a safe string representation.
// Sanitizes {{ and }} sequences to prevent template injection.
func SafeBodyString(body []byte, contentType string) string {
	s := string(body)

	s = strings.ReplaceAll(s, "{{", "{ {")
	s = strings.ReplaceAll(s, "}}", "} }")

	if strings.Contains(contentType, "text/html") {
		s = strings.ReplaceAll(s, "<", "&lt;")
		s = strings.ReplaceAll(s, ">", "&gt;")
	}

	return s
}
