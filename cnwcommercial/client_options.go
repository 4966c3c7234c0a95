package cnwcommercial

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientOption configures a Client and the service facades built on it.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
// The client's Timeout will be overridden by WithTimeout (or the default 10s).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *Client) {
		o.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout. Default is 10 seconds.
// Option ordering does not matter: timeout is always applied after all options.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *Client) {
		o.timeout = d
	}
}

// WithUserAgent sets the User-Agent header sent with requests.
// Default is UserAgent(edition, version).
func WithUserAgent(ua string) ClientOption {
	return func(o *Client) {
		o.userAgent = ua
	}
}

// WithFingerprint sets the installation fingerprint reported to backends.
// Default is GenerateFingerprint().
func WithFingerprint(fp string) ClientOption {
	return func(o *Client) {
		o.fingerprint = fp
	}
}

// WithClientSecret replaces the secret outbound requests are signed with.
func WithClientSecret(secret string) ClientOption {
	return func(o *Client) {
		o.secret = secret
	}
}

// WithClientClock sets the time source used for the ts parameter.
func WithClientClock(now func() time.Time) ClientOption {
	return func(o *Client) {
		o.now = now
	}
}

// WithBaseURL bypasses endpoint resolution and sends every request under u.
func WithBaseURL(u string) ClientOption {
	return func(o *Client) {
		o.baseURL = u
	}
}

// WithRateLimit throttles outbound requests to r per second with the given
// burst. Waiting honours the request context.
func WithRateLimit(r rate.Limit, burst int) ClientOption {
	return func(o *Client) {
		o.limiter = rate.NewLimiter(r, burst)
	}
}

// WithClientLogger sets the logger facades report failures to.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(o *Client) {
		o.logger = l
	}
}

// WithClientMetrics sets the collectors that count outbound requests.
func WithClientMetrics(m *Metrics) ClientOption {
	return func(o *Client) {
		o.metrics = m
	}
}
