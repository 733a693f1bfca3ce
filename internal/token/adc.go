package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	iamcredentials "google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/option"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// ADCCredentials impersonates a service account starting from Application
// Default Credentials. Every call resolves fresh credentials.
type ADCCredentials struct {
	// ProjectID, when set, is the quota project for the base credentials.
	ProjectID string
	// Lifetime of the impersonated access token. Zero leaves the server default.
	Lifetime time.Duration
	// Endpoint is the IAM Credentials API base URL. Empty uses the public API.
	Endpoint string
}

// RequestHeaders returns an Authorization header for principal.
func (c *ADCCredentials) RequestHeaders(ctx context.Context, principal string) (map[string]string, error) {
	base, err := google.FindDefaultCredentials(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("find default credentials: %w", err)
	}
	baseTok, err := base.TokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("base access token: %w", err)
	}
	if baseTok.AccessToken == "" {
		return nil, errors.New("base credentials returned no access token")
	}

	opts := []option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(baseTok))}
	if c.ProjectID != "" {
		opts = append(opts, option.WithQuotaProject(c.ProjectID))
	}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(c.Endpoint, "/")+"/"))
	}
	svc, err := iamcredentials.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("iam credentials client: %w", err)
	}

	req := &iamcredentials.GenerateAccessTokenRequest{Scope: []string{cloudPlatformScope}}
	if secs := int64(c.Lifetime / time.Second); secs > 0 {
		req.Lifetime = fmt.Sprintf("%ds", secs)
	}
	resp, err := svc.Projects.ServiceAccounts.
		GenerateAccessToken("projects/-/serviceAccounts/"+principal, req).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("impersonate %s: %w", principal, err)
	}
	if resp.AccessToken == "" {
		return nil, errors.New("impersonated credentials returned no access token")
	}

	return map[string]string{"Authorization": "Bearer " + resp.AccessToken}, nil
}
