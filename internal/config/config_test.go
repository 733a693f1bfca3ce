package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

const testBaseURL = "https://booking-api-abc123-an.a.run.app"

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// loadTOML loads data as the only configuration source.
func loadTOML(t *testing.T, data string) (*Config, error) {
	t.Helper()
	return Load(&CLI{Config: writeConfig(t, data)})
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := loadTOML(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[upstream]
base_url = "`+testBaseURL+`"
service_account = "proxy@daypass.iam.gserviceaccount.com"
timeout_seconds = 60
idle_connections = 50

[token]
mode = "gcloud"
gcloud_path = "/opt/google-cloud-sdk/bin/gcloud"
timeout_seconds = 15

[log]
level = "debug"
format = "text"
`)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := []struct {
		field string
		got   any
		want  any
	}{
		{"Server.Addr()", cfg.Server.Addr(), "127.0.0.1:9000"},
		{"Server.BodyMaxBytes", cfg.Server.BodyMaxBytes, int64(5242880)},
		{"Upstream.ServiceAccount", cfg.Upstream.ServiceAccount, "proxy@daypass.iam.gserviceaccount.com"},
		{"Upstream.TimeoutSeconds", cfg.Upstream.TimeoutSeconds, 60},
		{"Upstream.IdleConnections", cfg.Upstream.IdleConnections, 50},
		{"Token.UseGcloud()", cfg.Token.UseGcloud(), true},
		{"Token.GcloudPath", cfg.Token.GcloudPath, "/opt/google-cloud-sdk/bin/gcloud"},
		{"Token.TimeoutSeconds", cfg.Token.TimeoutSeconds, 15},
		{"Log.Level", cfg.Log.Level, "debug"},
		{"Log.Format", cfg.Log.Format, "text"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
		}
	}
}

func TestLoad_NoTargetAllowed(t *testing.T) {
	cfg, err := loadTOML(t, "[log]\nlevel = \"info\"\n")
	if err != nil {
		t.Fatalf("Load() error = %v; missing upstream must be reported per request, not at load", err)
	}
	if _, err := cfg.Target(); err == nil {
		t.Error("Target() error = nil, want ConfigurationError")
	}
}

func TestLoad_NoFile(t *testing.T) {
	old := configSearchPaths
	configSearchPaths = []string{filepath.Join(t.TempDir(), "absent.toml")}
	t.Cleanup(func() { configSearchPaths = old })

	cfg, err := Load(&CLI{
		CloudRunURL:    testBaseURL + "/",
		ServiceAccount: "proxy@daypass.iam.gserviceaccount.com",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	target, err := cfg.Target()
	if err != nil {
		t.Fatalf("Target() error = %v", err)
	}
	if target.Audience != testBaseURL {
		t.Errorf("Audience = %q, want %q", target.Audience, testBaseURL)
	}
	if cfg.Token.Mode != ModeIAM {
		t.Errorf("default Token.Mode = %q, want %q", cfg.Token.Mode, ModeIAM)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(&CLI{Config: "/nonexistent/config.toml"}); err == nil {
		t.Fatal("Load() expected error for missing explicit file, got nil")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"port too large", "[server]\nport = 70000\n", "server.port"},
		{"negative body limit", "[server]\nbody_max_bytes = -1\n", "server.body_max_bytes"},
		{"negative upstream timeout", "[upstream]\ntimeout_seconds = -5\n", "upstream.timeout_seconds"},
		{"negative idle connections", "[upstream]\nidle_connections = -1\n", "upstream.idle_connections"},
		{"negative token timeout", "[token]\ntimeout_seconds = -1\n", "token.timeout_seconds"},
		{"token lifetime above one hour", "[token]\nlifetime_seconds = 7200\n", "token.lifetime_seconds"},
		{"iam endpoint scheme", "[token]\niam_endpoint = \"grpc://iamcredentials.googleapis.com\"\n", "token.iam_endpoint"},
		{"log level", "[log]\nlevel = \"verbose\"\n", "log.level"},
		{"log format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"rate limit without rps", "[server.rate_limit]\nenabled = true\nrequests_per_second = 0\n", "requests_per_second"},
		{"malformed toml", "[server\nport = 1\n", "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadTOML(t, tt.data)
			if err == nil {
				t.Fatal("Load() error = nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidUpstreamURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"no scheme", "booking-api.a.run.app"},
		{"ftp scheme", "ftp://booking-api.a.run.app"},
		{"no host", "https://"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(&CLI{Config: writeConfig(t, ""), CloudRunURL: tt.url})
			if err == nil {
				t.Fatalf("Load() expected error for base_url %q, got nil", tt.url)
			}
			if !strings.Contains(err.Error(), "upstream.base_url") {
				t.Errorf("error = %q, want mention of upstream.base_url", err)
			}
		})
	}
}

func TestLoad_UpstreamURLAccepted(t *testing.T) {
	for _, u := range []string{"http://localhost:8081", testBaseURL + "/", "  " + testBaseURL + "  "} {
		t.Run(u, func(t *testing.T) {
			if _, err := Load(&CLI{Config: writeConfig(t, ""), CloudRunURL: u}); err != nil {
				t.Fatalf("Load() error = %v", err)
			}
		})
	}
}

func TestTokenConfig_UseGcloud(t *testing.T) {
	tests := []struct {
		mode string
		want bool
	}{
		{"gcloud", true},
		{"iam", false},
		{"", false},
		{"GCLOUD", false},
		{"anything", false},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			tc := &TokenConfig{Mode: tt.mode}
			if got := tc.UseGcloud(); got != tt.want {
				t.Errorf("UseGcloud() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadTOML(t, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := []struct {
		field string
		got   any
		want  any
	}{
		{"Server.Host", cfg.Server.Host, "0.0.0.0"},
		{"Server.Port", cfg.Server.Port, 8080},
		{"Server.BodyMaxBytes", cfg.Server.BodyMaxBytes, int64(10 * 1024 * 1024)},
		{"Server.RateLimit.Enabled", cfg.Server.RateLimit.Enabled, false},
		{"Upstream.TimeoutSeconds", cfg.Upstream.TimeoutSeconds, 120},
		{"Upstream.IdleConnections", cfg.Upstream.IdleConnections, 100},
		{"Token.Mode", cfg.Token.Mode, ModeIAM},
		{"Token.GcloudPath", cfg.Token.GcloudPath, "gcloud"},
		{"Token.TimeoutSeconds", cfg.Token.TimeoutSeconds, 30},
		{"Token.LifetimeSeconds", cfg.Token.LifetimeSeconds, 300},
		{"Token.IAMEndpoint", cfg.Token.IAMEndpoint, "https://iamcredentials.googleapis.com"},
		{"Log.Level", cfg.Log.Level, "info"},
		{"Log.Format", cfg.Log.Format, "json"},
		{"Metrics.Path", cfg.Metrics.Path, "/metrics"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("default %s = %v, want %v", c.field, c.got, c.want)
		}
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[upstream]
base_url = "`+testBaseURL+`"

[token]
mode = "iam"

[log]
level = "info"
`)

	cfg, err := Load(&CLI{
		Config:         path,
		Host:           "127.0.0.1",
		Port:           3000,
		LogLevel:       "debug",
		CloudRunURL:    "https://other-api.a.run.app",
		ServiceAccount: "cli@daypass.iam.gserviceaccount.com",
		ProxyMode:      "gcloud",
		GcloudPath:     `"C:\Program Files\gcloud.cmd"`,
		ProjectID:      "daypass-prod",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := []struct {
		field string
		got   any
		want  any
	}{
		{"Server.Addr()", cfg.Server.Addr(), "127.0.0.1:3000"},
		{"Upstream.BaseURL", cfg.Upstream.BaseURL, "https://other-api.a.run.app"},
		{"Upstream.ServiceAccount", cfg.Upstream.ServiceAccount, "cli@daypass.iam.gserviceaccount.com"},
		{"Token.Mode", cfg.Token.Mode, ModeGcloud},
		{"Token.GcloudPath", cfg.Token.GcloudPath, `"C:\Program Files\gcloud.cmd"`},
		{"Token.ProjectID", cfg.Token.ProjectID, "daypass-prod"},
		{"Log.Level", cfg.Log.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v (CLI override)", c.field, c.got, c.want)
		}
	}
}

func TestLoad_RateLimit(t *testing.T) {
	cfg, err := loadTOML(t, "[server.rate_limit]\nenabled = true\nrequests_per_second = 50.0\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled || cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit = %+v, want enabled at 50 rps", cfg.Server.RateLimit)
	}
}

func TestLoad_MetricsPath(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr string
	}{
		{"default", "[metrics]\nenabled = true\n", "/metrics", ""},
		{"custom", "[metrics]\nenabled = true\npath = \"/custom-metrics\"\n", "/custom-metrics", ""},
		{"disabled skips validation", "[metrics]\nenabled = false\npath = \"bad-no-slash\"\n", "bad-no-slash", ""},
		{"no leading slash", "[metrics]\nenabled = true\npath = \"metrics\"\n", "", "metrics.path"},
		{"proxy prefix", "[metrics]\nenabled = true\npath = \"/api/proxy\"\n", "", "conflicts"},
		{"under proxy prefix", "[metrics]\nenabled = true\npath = \"/api/proxy/metrics\"\n", "", "conflicts"},
		{"healthz", "[metrics]\nenabled = true\npath = \"/healthz\"\n", "", "conflicts"},
		{"status", "[metrics]\nenabled = true\npath = \"/proxy/status\"\n", "", "conflicts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadTOML(t, tt.data)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want mention of %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Metrics.Path != tt.want {
				t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, tt.want)
			}
		})
	}
}

func TestWarnPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}

	tests := []struct {
		name     string
		mode     os.FileMode
		wantWarn bool
	}{
		{"world readable", 0o644, true},
		{"owner only", 0o600, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "# test")
			if err := os.Chmod(path, tt.mode); err != nil {
				t.Fatal(err)
			}

			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
			(&Config{filePath: path}).WarnPermissions(logger)

			if got := strings.Contains(buf.String(), "readable by group/others"); got != tt.wantWarn {
				t.Errorf("warned = %v, want %v (log %q)", got, tt.wantWarn, buf.String())
			}
		})
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	var buf bytes.Buffer
	(&Config{}).WarnPermissions(slog.New(slog.NewTextHandler(&buf, nil)))
	if buf.Len() != 0 {
		t.Errorf("expected no output without a config file, got %q", buf.String())
	}
}

func TestWarnMissingTarget(t *testing.T) {
	tests := []struct {
		name     string
		upstream UpstreamConfig
		wantEnv  []string
	}{
		{"both missing", UpstreamConfig{}, []string{EnvCloudRunURL, EnvServiceAccount}},
		{"service account missing", UpstreamConfig{BaseURL: testBaseURL}, []string{EnvServiceAccount}},
		{"configured", UpstreamConfig{BaseURL: testBaseURL, ServiceAccount: "sa@p.iam.gserviceaccount.com"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			(&Config{Upstream: tt.upstream}).WarnMissingTarget(slog.New(slog.NewTextHandler(&buf, nil)))

			out := buf.String()
			if got := strings.Count(out, "level=WARN"); got != len(tt.wantEnv) {
				t.Errorf("warnings = %d, want %d: %q", got, len(tt.wantEnv), out)
			}
			for _, env := range tt.wantEnv {
				if !strings.Contains(out, "env="+env) {
					t.Errorf("missing warning for %s: %q", env, out)
				}
			}
		})
	}
}

func TestFindConfigInPaths(t *testing.T) {
	first := writeConfig(t, "")
	second := writeConfig(t, "")

	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"found", []string{first}, first},
		{"not found", []string{"/nonexistent/a.toml", "/nonexistent/b.toml"}, ""},
		{"first match wins", []string{first, second}, first},
		{"skips missing", []string{"/nonexistent/a.toml", second}, second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findConfigInPaths(tt.paths); got != tt.want {
				t.Errorf("findConfigInPaths() = %q, want %q", got, tt.want)
			}
		})
	}
}
