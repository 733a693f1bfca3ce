package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"daypass-proxy/internal/config"
	"daypass-proxy/internal/model"
	"daypass-proxy/internal/service"
	"daypass-proxy/internal/token"
)

// ErrorEnvelope is the only body the proxy originates itself.
type ErrorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ProxyHandler relays browser calls under /api/proxy/ to the private backend.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
	bodyMax int64
}

// NewProxyHandler creates a ProxyHandler. Request bodies larger than
// cfg.Server.BodyMaxBytes are rejected with the proxy error envelope.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
		bodyMax: cfg.Server.BodyMaxBytes,
	}
}

// Handle relays the request and writes the upstream status, content type and
// body back unchanged. Any failure inside the proxy, including a panic,
// produces exactly one HTTP 500 with an ErrorEnvelope.
func (h *ProxyHandler) Handle(c echo.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = h.writeException(c, fmt.Errorf("panic: %v", r))
		}
	}()

	req := c.Request()
	pr := &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     proxyPath(req),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
	}

	// GET and HEAD bodies are never read, even if the client sent one.
	if pr.HasBody() {
		body, readErr := readBody(req.Body, h.bodyMax)
		if readErr != nil {
			return h.writeException(c, readErr)
		}
		pr.Body = body
	}

	resp, fwdErr := h.service.Forward(pr)
	if fwdErr != nil {
		return h.writeException(c, fwdErr)
	}

	return c.Blob(resp.StatusCode, resp.ContentType, resp.Body)
}

// readBody reads r fully, failing once more than limit bytes arrive.
// A limit of zero or less disables the check.
func readBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		return body, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("request body exceeds %d bytes", limit)
	}
	return body, nil
}

// proxyPath returns the escaped path suffix after the proxy prefix.
func proxyPath(req *http.Request) string {
	p := strings.TrimPrefix(req.URL.EscapedPath(), config.ProxyRoutePrefix)
	return strings.TrimLeft(p, "/")
}

func (h *ProxyHandler) writeException(c echo.Context, err error) error {
	attrs := []any{
		"err", err,
		"kind", errorKind(err),
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	}
	var tokErr *token.TokenAcquisitionError
	if errors.As(err, &tokErr) {
		attrs = append(attrs, "strategy", tokErr.Strategy)
		if tokErr.Status != 0 {
			attrs = append(attrs, "token_status", tokErr.Status)
		}
	}
	h.logger.Error("proxy exception", attrs...)

	if c.Response().Committed {
		return nil
	}
	return c.JSON(http.StatusInternalServerError, ErrorEnvelope{
		Error:   "Proxy exception",
		Message: err.Error(),
	})
}

func errorKind(err error) string {
	var cfgErr *config.ConfigurationError
	var tokErr *token.TokenAcquisitionError
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &tokErr):
		return "token_acquisition"
	default:
		return "relay"
	}
}
