// Package service implements the identity-token relay logic.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"daypass-proxy/internal/client"
	"daypass-proxy/internal/config"
	"daypass-proxy/internal/model"
	"daypass-proxy/internal/token"
)

const defaultContentType = "application/json"

// bodyLogLimit is how many characters of an upstream error body are logged.
const bodyLogLimit = 500

// UpstreamError describes a non-2xx upstream response. It is logged but never
// returned to the caller: the response itself is relayed unchanged.
type UpstreamError struct {
	Status int
	URL    string
	// Body holds at most bodyLogLimit characters of the response body.
	Body string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded %d for %s", e.Status, e.URL)
}

// ProxyService relays requests to the backend with an identity token attached.
type ProxyService struct {
	client       *client.UpstreamClient
	tokens       token.Acquirer
	cfg          *config.Config
	logger       *slog.Logger
	tokenTimeout time.Duration
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, tokens token.Acquirer, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client:       c,
		tokens:       tokens,
		cfg:          cfg,
		logger:       logger.With("component", "proxy_service"),
		tokenTimeout: time.Duration(cfg.Token.TimeoutSeconds) * time.Second,
	}
}

// Forward resolves the target, acquires a fresh identity token and relays pr
// upstream. Upstream responses of any status are returned as-is; an error is
// returned only when the proxy itself failed. No step is retried.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target, err := s.cfg.Target()
	if err != nil {
		return nil, err
	}
	upstreamURL := target.URL(pr.Path, pr.RawQuery)

	tok, err := s.acquireToken(pr.Ctx, target)
	if err != nil {
		return nil, err
	}

	var body []byte
	if pr.HasBody() {
		body = pr.Body
		if body == nil {
			body = []byte{}
		}
	}
	header := buildRequestHeaders(pr.Header, pr.HasBody(), tok)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"url", upstreamURL,
	)

	resp, err := s.client.Do(pr.Ctx, pr.Method, upstreamURL, header, body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	if resp.ContentType == "" {
		resp.ContentType = defaultContentType
	}
	if !resp.OK() {
		s.logUpstreamError(&UpstreamError{
			Status: resp.StatusCode,
			URL:    upstreamURL,
			Body:   truncate(string(resp.Body), bodyLogLimit),
		})
	}
	return resp, nil
}

func (s *ProxyService) acquireToken(ctx context.Context, target config.Target) (string, error) {
	if s.tokenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.tokenTimeout)
		defer cancel()
	}
	return s.tokens.AcquireToken(ctx, target.ServiceAccount, target.Audience)
}

func (s *ProxyService) logUpstreamError(e *UpstreamError) {
	s.logger.Error("upstream error response",
		"status", e.Status,
		"url", e.URL,
		"body", e.Body,
	)
}

// buildRequestHeaders forwards only Accept and, for requests with a body,
// Content-Type. The Authorization header is always the identity token.
func buildRequestHeaders(src http.Header, hasBody bool, tok string) http.Header {
	dst := make(http.Header)
	dst.Set("Accept", valueOr(src.Get("Accept"), defaultContentType))
	if hasBody {
		dst.Set("Content-Type", valueOr(src.Get("Content-Type"), defaultContentType))
	}
	dst.Set("Authorization", "Bearer "+tok)
	return dst
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// truncate returns the first n characters of s without splitting a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
