package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"
	iamcredentials "google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/option"
)

// CredentialSource returns request headers that authenticate as principal.
// Header names may use any casing.
type CredentialSource interface {
	RequestHeaders(ctx context.Context, principal string) (map[string]string, error)
}

// IAMAcquirer obtains tokens from the IAM Credentials generateIdToken method,
// authenticated with impersonated credentials for the target principal.
type IAMAcquirer struct {
	creds      CredentialSource
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewIAMAcquirer creates an IAMAcquirer. endpoint is the IAM Credentials API
// root, normally https://iamcredentials.googleapis.com.
func NewIAMAcquirer(creds CredentialSource, endpoint string, httpClient *http.Client, logger *slog.Logger) *IAMAcquirer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &IAMAcquirer{
		creds:      creds,
		endpoint:   strings.TrimRight(endpoint, "/") + "/",
		httpClient: httpClient,
		logger:     logger.With("component", "iam_token"),
	}
}

// AcquireToken exchanges impersonated credentials for an identity token.
func (a *IAMAcquirer) AcquireToken(ctx context.Context, principal, audience string) (string, error) {
	headers, err := a.creds.RequestHeaders(ctx, principal)
	if err != nil {
		return "", a.fail(&TokenAcquisitionError{Strategy: StrategyIAM, Op: "impersonate", Err: err})
	}
	authz := lookupHeader(headers, "Authorization")
	if authz == "" {
		return "", a.fail(&TokenAcquisitionError{
			Strategy: StrategyIAM,
			Op:       "impersonate",
			Detail:   "impersonated credentials produced no Authorization header",
		})
	}

	svc, err := a.service(ctx, authz)
	if err != nil {
		return "", a.fail(&TokenAcquisitionError{Strategy: StrategyIAM, Op: "client", Err: err})
	}

	resp, err := svc.Projects.ServiceAccounts.GenerateIdToken(
		"projects/-/serviceAccounts/"+principal,
		&iamcredentials.GenerateIdTokenRequest{Audience: audience, IncludeEmail: true},
	).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return "", a.fail(&TokenAcquisitionError{
				Strategy: StrategyIAM,
				Op:       "generateIdToken",
				Status:   apiErr.Code,
				Detail:   apiErr.Body,
				Err:      err,
			})
		}
		tokErr := &TokenAcquisitionError{Strategy: StrategyIAM, Op: "generateIdToken", Err: err}
		// Anything other than a transport failure means a 2xx body that did not decode.
		var urlErr *url.Error
		if !errors.As(err, &urlErr) {
			tokErr.Detail = "malformed response: " + err.Error()
		}
		return "", a.fail(tokErr)
	}
	if resp.Token == "" {
		return "", a.fail(&TokenAcquisitionError{
			Strategy: StrategyIAM,
			Op:       "generateIdToken",
			Status:   resp.HTTPStatusCode,
			Detail:   "response has no token",
		})
	}

	return resp.Token, nil
}

// service builds an IAM Credentials client that sends authz on every call.
func (a *IAMAcquirer) service(ctx context.Context, authz string) (*iamcredentials.Service, error) {
	// ResolveRelative panics on an unparsable base path.
	if _, err := url.Parse(a.endpoint); err != nil {
		return nil, fmt.Errorf("iam endpoint: %w", err)
	}

	base := a.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := &http.Client{
		Transport: &authorizingTransport{authz: authz, base: base},
		Timeout:   a.httpClient.Timeout,
	}

	svc, err := iamcredentials.NewService(ctx, option.WithHTTPClient(hc), option.WithEndpoint(a.endpoint))
	if err != nil {
		return nil, fmt.Errorf("iamcredentials client: %w", err)
	}
	return svc, nil
}

// authorizingTransport sets a fixed Authorization header on each request.
type authorizingTransport struct {
	authz string
	base  http.RoundTripper
}

func (t *authorizingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", t.authz)
	return t.base.RoundTrip(r)
}

func (a *IAMAcquirer) fail(err *TokenAcquisitionError) error {
	attrs := []any{"op", err.Op}
	if err.Status != 0 {
		attrs = append(attrs, "status", err.Status)
	}
	if err.Detail != "" {
		attrs = append(attrs, "body", err.Detail)
	}
	if err.Err != nil {
		attrs = append(attrs, "err", err.Err)
	}
	a.logger.Error("token acquisition failed", attrs...)
	return err
}

// lookupHeader accepts the named header under any casing produced by the
// credential library.
func lookupHeader(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
