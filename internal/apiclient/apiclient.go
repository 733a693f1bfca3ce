// Package apiclient is the caller-side helper for services and tools that
// reach the booking backend through the proxy. Logical API paths such as
// "/bookings" are rewritten to "/api/proxy/bookings" before the call.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"daypass-proxy/internal/config"
	"daypass-proxy/internal/model"
)

// ProxyPath rewrites a logical API path into its proxied form. Paths that
// already carry the proxy prefix are returned unchanged.
func ProxyPath(path string) string {
	if path == config.ProxyRoutePrefix || strings.HasPrefix(path, config.ProxyRoutePrefix+"/") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return config.ProxyRoutePrefix + path
}

// Client calls the proxy on behalf of a booking front end.
type Client struct {
	// BaseURL is the proxy origin, e.g. "http://localhost:8080".
	BaseURL string
	HTTP    *http.Client
}

// New returns a Client for baseURL with a default timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Do sends a JSON request to the proxied form of path. A nil body sends no
// request body; anything else is JSON encoded. Any HTTP status is returned
// as a response, not an error.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*model.ProxyResponse, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	u := strings.TrimRight(c.BaseURL, "/") + ProxyPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &model.ProxyResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

// ProxyException is the envelope the proxy returns when it failed itself,
// as opposed to relaying an upstream rejection.
type ProxyException struct {
	Message string
}

func (e *ProxyException) Error() string {
	return "proxy exception: " + e.Message
}

// Exception reports whether resp is the proxy's own failure envelope.
func Exception(resp *model.ProxyResponse) (*ProxyException, bool) {
	if resp.StatusCode != http.StatusInternalServerError {
		return nil, false
	}
	var env struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body, &env); err != nil || env.Error != "Proxy exception" {
		return nil, false
	}
	return &ProxyException{Message: env.Message}, true
}
