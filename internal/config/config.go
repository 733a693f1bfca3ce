// Package config handles TOML configuration loading, environment overrides and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/daypass-proxy/config.toml",
	"configs/config.toml",
}

// Environment variable names for the upstream target. They double as the
// names reported in ConfigurationError.
const (
	EnvCloudRunURL    = "CLOUD_RUN_URL"
	EnvServiceAccount = "GCP_SERVICE_ACCOUNT"
)

// Token acquisition modes.
const (
	ModeGcloud = "gcloud"
	ModeIAM    = "iam"
)

// ProxyRoutePrefix is the path prefix served by the identity-token proxy.
const ProxyRoutePrefix = "/api/proxy"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config         string           `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host           string           `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port           int              `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel       string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	CloudRunURL    string           `kong:"name='cloud-run-url',help='Upstream service base URL, also the token audience.',env='CLOUD_RUN_URL'"`
	ServiceAccount string           `kong:"help='Service account to impersonate.',env='GCP_SERVICE_ACCOUNT'"`
	ProxyMode      string           `kong:"help='Token mode: gcloud selects the gcloud CLI, anything else IAM impersonation.',env='GCP_PROXY_MODE'"`
	GcloudPath     string           `kong:"help='Path to the gcloud executable.',env='GCLOUD_PATH'"`
	ProjectID      string           `kong:"help='Quota project for the base credentials.',env='GCP_PROJECT_ID'"`
	Version        kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Token    TokenConfig    `toml:"token"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds the private backend location and connection settings.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url"`
	ServiceAccount  string `toml:"service_account"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// TokenConfig controls how identity tokens are obtained.
type TokenConfig struct {
	Mode            string `toml:"mode"`
	GcloudPath      string `toml:"gcloud_path"`
	ProjectID       string `toml:"project_id"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	LifetimeSeconds int    `toml:"lifetime_seconds"`
	IAMEndpoint     string `toml:"iam_endpoint"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the optional TOML config file and applies CLI and environment overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/daypass-proxy/config.toml then configs/config.toml. If neither exists the
// configuration is built from flags, environment and defaults alone.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.CloudRunURL != "" {
		c.Upstream.BaseURL = cli.CloudRunURL
	}
	if cli.ServiceAccount != "" {
		c.Upstream.ServiceAccount = cli.ServiceAccount
	}
	if cli.ProxyMode != "" {
		c.Token.Mode = cli.ProxyMode
	}
	if cli.GcloudPath != "" {
		c.Token.GcloudPath = cli.GcloudPath
	}
	if cli.ProjectID != "" {
		c.Token.ProjectID = cli.ProjectID
	}
}

func (c *Config) validate() error {
	// The upstream URL may be absent at load time; requests then fail with
	// ConfigurationError. When present it must be an absolute http(s) URL.
	if base := strings.TrimSpace(c.Upstream.BaseURL); base != "" {
		if err := validateHTTPURL("upstream.base_url", base); err != nil {
			return err
		}
	}
	if c.Token.IAMEndpoint != "" {
		if err := validateHTTPURL("token.iam_endpoint", c.Token.IAMEndpoint); err != nil {
			return err
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Token.TimeoutSeconds < 0 {
		return fmt.Errorf("token.timeout_seconds must be non-negative; got %d", c.Token.TimeoutSeconds)
	}
	// generateAccessToken accepts lifetimes up to one hour.
	if c.Token.LifetimeSeconds < 0 || c.Token.LifetimeSeconds > 3600 {
		return fmt.Errorf("token.lifetime_seconds must be 0–3600; got %d", c.Token.LifetimeSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{ProxyRoutePrefix, "/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s must use http or https; got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host; got %q", field, raw)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Token.Mode == "" {
		c.Token.Mode = ModeIAM
	}
	if c.Token.GcloudPath == "" {
		c.Token.GcloudPath = "gcloud"
	}
	if c.Token.TimeoutSeconds == 0 {
		c.Token.TimeoutSeconds = 30
	}
	if c.Token.LifetimeSeconds == 0 {
		c.Token.LifetimeSeconds = 300
	}
	if c.Token.IAMEndpoint == "" {
		c.Token.IAMEndpoint = "https://iamcredentials.googleapis.com"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// UseGcloud reports whether tokens come from the gcloud CLI. Only the exact
// value "gcloud" selects it; every other value selects IAM impersonation.
func (t *TokenConfig) UseGcloud() bool {
	return t.Mode == ModeGcloud
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// WarnMissingTarget logs a warning for each unset upstream target value.
// Requests will fail with ConfigurationError until they are provided.
func (c *Config) WarnMissingTarget(logger *slog.Logger) {
	if c.Upstream.BaseURL == "" {
		logger.Warn("upstream target not configured; proxy requests will fail", "env", EnvCloudRunURL)
	}
	if c.Upstream.ServiceAccount == "" {
		logger.Warn("upstream target not configured; proxy requests will fail", "env", EnvServiceAccount)
	}
}
