package config

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a required setting that is missing. It is raised
// before any network call is made.
type ConfigurationError struct {
	Name string
}

func (e *ConfigurationError) Error() string {
	return "Missing env var: " + e.Name
}

// Target is the upstream destination resolved for a single proxied request.
type Target struct {
	// Audience is the upstream base URL without a trailing slash. It is both
	// the URL prefix for outbound requests and the identity token audience.
	Audience string
	// ServiceAccount is the principal impersonated for token issuance.
	ServiceAccount string
}

// Target resolves the upstream target from the configuration. It fails with
// *ConfigurationError when the base URL or service account is unset.
func (c *Config) Target() (Target, error) {
	base := strings.TrimSpace(c.Upstream.BaseURL)
	if base == "" {
		return Target{}, &ConfigurationError{Name: EnvCloudRunURL}
	}
	sa := strings.TrimSpace(c.Upstream.ServiceAccount)
	if sa == "" {
		return Target{}, &ConfigurationError{Name: EnvServiceAccount}
	}
	return Target{
		Audience:       strings.TrimRight(base, "/"),
		ServiceAccount: sa,
	}, nil
}

// URL joins the audience and a request path with exactly one separator and
// appends the raw query unmodified.
func (t Target) URL(path, rawQuery string) string {
	u := fmt.Sprintf("%s/%s", t.Audience, strings.TrimLeft(path, "/"))
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}
