// Package handler wires HTTP endpoints onto Echo.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"daypass-proxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness checks.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information. A proxy without a resolvable
// target reports "unconfigured" but still answers 200.
func (h *HealthHandler) Status(c echo.Context) error {
	status := "ok"
	if _, err := h.cfg.Target(); err != nil {
		status = "unconfigured"
	}
	mode := config.ModeIAM
	if h.cfg.Token.UseGcloud() {
		mode = config.ModeGcloud
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":       status,
		"version":      string(h.version),
		"upstream_url": h.cfg.Upstream.BaseURL,
		"token_mode":   mode,
	})
}
