// Package token obtains audience-scoped Google identity tokens for an
// impersonated service account.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"daypass-proxy/internal/config"
	"daypass-proxy/internal/metrics"
)

// Strategy names used in errors, logs and metric labels.
const (
	StrategyGcloud = "gcloud"
	StrategyIAM    = "iam"
)

// Acquirer produces an identity token for principal whose audience claim is
// audience. Implementations hold no token cache; every call issues a fresh token.
type Acquirer interface {
	AcquireToken(ctx context.Context, principal, audience string) (string, error)
}

// TokenAcquisitionError reports that a strategy could not produce a token.
type TokenAcquisitionError struct {
	Strategy string
	Op       string
	// Status is the HTTP status of the failing call, 0 when not applicable.
	Status int
	// Detail carries the diagnostic payload: response body or process output.
	Detail string
	Err    error
}

func (e *TokenAcquisitionError) Error() string {
	msg := fmt.Sprintf("%s token: %s failed", e.Strategy, e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	switch {
	case e.Detail != "":
		msg += ": " + e.Detail
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TokenAcquisitionError) Unwrap() error {
	return e.Err
}

// New returns the Acquirer selected by cfg.Token.Mode: the gcloud CLI for
// "gcloud", IAM impersonation otherwise. When m is non-nil the acquirer is
// instrumented.
func New(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) Acquirer {
	var (
		a        Acquirer
		strategy string
	)
	if cfg.Token.UseGcloud() {
		a = NewGcloudAcquirer(cfg.Token.GcloudPath, logger)
		strategy = StrategyGcloud
	} else {
		creds := &ADCCredentials{
			ProjectID: cfg.Token.ProjectID,
			Lifetime:  time.Duration(cfg.Token.LifetimeSeconds) * time.Second,
			Endpoint:  cfg.Token.IAMEndpoint,
		}
		httpClient := &http.Client{Timeout: time.Duration(cfg.Token.TimeoutSeconds) * time.Second}
		a = NewIAMAcquirer(creds, cfg.Token.IAMEndpoint, httpClient, logger)
		strategy = StrategyIAM
	}

	logger.Info("token strategy selected", "strategy", strategy)

	if m == nil {
		return a
	}
	return Instrument(a, strategy, m)
}
