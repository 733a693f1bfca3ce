package token

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the process is
// killed on context expiry.
const waitDelay = 5 * time.Second

// GcloudAcquirer obtains tokens by running `gcloud auth print-identity-token`.
type GcloudAcquirer struct {
	path   string
	logger *slog.Logger
}

// NewGcloudAcquirer creates a GcloudAcquirer for the executable at path.
func NewGcloudAcquirer(path string, logger *slog.Logger) *GcloudAcquirer {
	return &GcloudAcquirer{
		path:   NormalizeExecutable(path),
		logger: logger.With("component", "gcloud_token"),
	}
}

// AcquireToken runs gcloud and returns its trimmed standard output.
// A non-zero exit yields *TokenAcquisitionError carrying stderr, or stdout
// when stderr is empty.
func (g *GcloudAcquirer) AcquireToken(ctx context.Context, principal, audience string) (string, error) {
	// Arguments are passed as a vector; no shell parses principal or audience.
	cmd := exec.CommandContext(ctx, g.path, gcloudArgs(principal, audience)...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		tokErr := &TokenAcquisitionError{
			Strategy: StrategyGcloud,
			Op:       "print-identity-token",
			Detail:   detail,
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			g.logger.Error("token acquisition failed",
				"exit_code", exitErr.ExitCode(),
				"detail", detail,
			)
		} else {
			g.logger.Error("token acquisition failed", "err", err)
		}
		return "", tokErr
	}

	tok := strings.TrimSpace(stdout.String())
	if tok == "" {
		return "", &TokenAcquisitionError{
			Strategy: StrategyGcloud,
			Op:       "print-identity-token",
			Detail:   "empty output",
		}
	}
	return tok, nil
}

func gcloudArgs(principal, audience string) []string {
	return []string{
		"auth", "print-identity-token",
		"--impersonate-service-account=" + principal,
		"--audiences=" + audience,
		"--include-email",
	}
}

// NormalizeExecutable strips whitespace and surrounding quote characters from
// a configured executable path, e.g. `"C:\Program Files\gcloud.cmd"`.
func NormalizeExecutable(path string) string {
	return strings.Trim(strings.TrimSpace(path), `"'`)
}
