package token

import (
	"context"
	"time"

	"daypass-proxy/internal/metrics"
)

// Instrumented records Prometheus metrics around another Acquirer.
type Instrumented struct {
	next     Acquirer
	strategy string
	metrics  *metrics.Metrics
}

// Instrument wraps a with token request metrics labeled by strategy.
func Instrument(a Acquirer, strategy string, m *metrics.Metrics) *Instrumented {
	return &Instrumented{next: a, strategy: strategy, metrics: m}
}

// AcquireToken implements Acquirer.
func (i *Instrumented) AcquireToken(ctx context.Context, principal, audience string) (string, error) {
	start := time.Now()
	tok, err := i.next.AcquireToken(ctx, principal, audience)
	i.metrics.TokenDuration.WithLabelValues(i.strategy).Observe(time.Since(start).Seconds())

	result := "ok"
	if err != nil {
		result = "error"
	}
	i.metrics.TokenRequests.WithLabelValues(i.strategy, result).Inc()
	return tok, err
}
