package cnwcommercial

import (
	"time"

	"github.com/CloudNativeWorks/cnw-commercial-sdk/cnwcommercial/ratelimit"
	"github.com/CloudNativeWorks/cnw-commercial-sdk/cnwcommercial/securitylog"
	"go.uber.org/zap"
)

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithSharedSecret replaces the secret signatures are checked against.
// Default is DeriveSharedSecret().
func WithSharedSecret(secret string) VerifierOption {
	return func(v *Verifier) {
		v.secret = secret
	}
}

// WithLimiter sets the per-fingerprint rate limiter. The caller keeps
// ownership and must close it. Default is an in-memory limiter allowing
// 100 requests per minute, closed by Verifier.Close.
func WithLimiter(l ratelimit.Limiter) VerifierOption {
	return func(v *Verifier) {
		v.limiter = l
	}
}

// WithSecurityLog sets where rejected requests are recorded.
func WithSecurityLog(l *securitylog.Logger) VerifierOption {
	return func(v *Verifier) {
		v.seclog = l
	}
}

// WithVerifierEdition sets the edition of the serving build. It controls
// how loudly a missing product token in the User-Agent is logged.
// Default is EditionFromEnv().
func WithVerifierEdition(edition ClientType) VerifierOption {
	return func(v *Verifier) {
		v.edition = edition
	}
}

// WithVerifierClock sets the time source used for the freshness check.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// WithMaxClockSkew sets how far ts may drift from now. Default is 5 minutes.
func WithMaxClockSkew(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.maxSkew = d
	}
}

// WithRetryAfter sets the Retry-After value sent with 429 responses.
// Default is 60 seconds.
func WithRetryAfter(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.retryAfter = d
	}
}

// WithVerifierLogger sets the logger for verification outcomes.
func WithVerifierLogger(l *zap.Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = l
	}
}

// WithVerifierMetrics sets the collectors that count verification outcomes.
func WithVerifierMetrics(m *Metrics) VerifierOption {
	return func(v *Verifier) {
		v.metrics = m
	}
}
