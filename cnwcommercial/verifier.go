package cnwcommercial

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CloudNativeWorks/cnw-commercial-sdk/cnwcommercial/ratelimit"
	"github.com/CloudNativeWorks/cnw-commercial-sdk/cnwcommercial/securitylog"
	"go.uber.org/zap"
)

const (
	defaultMaxClockSkew = 5 * time.Minute
	defaultRetryAfter   = 60 * time.Second
)

// Messages returned to rejected callers. They carry no diagnostic detail.
const (
	msgInvalidParams     = "Invalid request parameters"
	msgInvalidClient     = "Invalid client type"
	msgInvalidFP         = "Invalid client fingerprint"
	msgInvalidTimestamp  = "Request expired or invalid timestamp"
	msgInvalidSignature  = "Invalid request signature"
	msgIdentityMismatch  = "Client identity mismatch"
	msgTooManyRequests   = "Too many requests"
	msgInternalError     = "Internal server error"
	reasonInternal       = "internal"
	reasonMissingParams  = "missing_params"
	reasonInvalidClient  = "invalid_client"
	reasonInvalidFP      = "invalid_fingerprint"
	reasonInvalidTS      = "invalid_timestamp"
	reasonInvalidSig     = "invalid_signature"
	reasonHeaderMismatch = "header_mismatch"
	reasonRateLimited    = "rate_limited"
)

// Headers copied into the security log for rejected requests.
var loggedHeaders = []string{
	"User-Agent",
	HeaderClientType,
	HeaderClientFingerprint,
	"X-Forwarded-For",
	"X-Forwarded-Proto",
	"X-Real-IP",
	"Origin",
	"Referer",
}

type verificationKey struct{}

// VerificationFromContext returns the Verification attached by
// Verifier.Middleware, if any.
func VerificationFromContext(ctx context.Context) (*Verification, bool) {
	v, ok := ctx.Value(verificationKey{}).(*Verification)
	return v, ok
}

// rejection is a terminal verification outcome.
type rejection struct {
	status  int
	message string
	reason  string
	details map[string]interface{}
}

// Verifier authenticates inbound commercial requests. Checks run in a fixed
// order and stop at the first failure:
//
//  1. client, fp, ts, sig and type are present
//  2. client is opensource or commercial
//  3. fp is 16 lowercase hex characters
//  4. ts is within the allowed clock skew
//  5. sig matches the recomputed signature
//  6. X-Client-Type and X-Client-Fingerprint, when sent, match the query
//  7. the fingerprint is within its rate limit
//
// A User-Agent without the CNW-Commerce product token is logged but never
// rejected.
type Verifier struct {
	secret       string
	limiter      ratelimit.Limiter
	ownedLimiter *ratelimit.MemoryLimiter
	seclog       *securitylog.Logger
	edition      ClientType
	now          func() time.Time
	maxSkew      time.Duration
	retryAfter   time.Duration
	logger       *zap.Logger
	metrics      *Metrics
}

// NewVerifier creates a Verifier.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		secret:     DeriveSharedSecret(),
		edition:    EditionFromEnv(),
		now:        time.Now,
		maxSkew:    defaultMaxClockSkew,
		retryAfter: defaultRetryAfter,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.limiter == nil {
		v.ownedLimiter = ratelimit.NewMemoryLimiter(ratelimit.DefaultConfig())
		v.limiter = v.ownedLimiter
	}
	if v.seclog == nil {
		v.seclog = securitylog.New(v.logger)
	}
	return v
}

// Close stops the default in-memory limiter if the Verifier created it.
func (v *Verifier) Close() error {
	if v.ownedLimiter != nil {
		return v.ownedLimiter.Close()
	}
	return nil
}

// Middleware wraps next so it only sees verified requests. The
// Verification is available to next through VerificationFromContext.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ver, rej := v.check(r)
		if rej != nil {
			v.reject(w, r, rej)
			return
		}

		v.metrics.accepted()
		v.logger.Info("commercial request verified",
			zap.String("client_type", string(ver.Type)),
			zap.String("fingerprint", ver.Fingerprint),
			zap.String("server_type", ver.ServerType),
			zap.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), verificationKey{}, ver)))
	})
}

// check runs the verification steps. A panic in any step becomes a 500.
func (v *Verifier) check(r *http.Request) (ver *Verification, rej *rejection) {
	defer func() {
		if p := recover(); p != nil {
			v.logger.Error("verification middleware error",
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
			ver, rej = nil, internalRejection(fmt.Errorf("panic: %v", p))
		}
	}()
	return v.verify(r)
}

func (v *Verifier) verify(r *http.Request) (*Verification, *rejection) {
	q := r.URL.Query()
	client := q.Get(ParamClient)
	fp := q.Get(ParamFingerprint)
	tsRaw := q.Get(ParamTimestamp)
	sig := q.Get(ParamSignature)
	serverType := q.Get(ParamServerType)

	if client == "" || fp == "" || tsRaw == "" || sig == "" || serverType == "" {
		return nil, &rejection{
			status:  http.StatusBadRequest,
			message: msgInvalidParams,
			reason:  reasonMissingParams,
			details: map[string]interface{}{
				"has_client": client != "",
				"has_fp":     fp != "",
				"has_ts":     tsRaw != "",
				"has_sig":    sig != "",
				"has_type":   serverType != "",
			},
		}
	}

	clientType := ClientType(client)
	if !clientType.Valid() {
		return nil, &rejection{
			status:  http.StatusBadRequest,
			message: msgInvalidClient,
			reason:  reasonInvalidClient,
			details: map[string]interface{}{"client": client},
		}
	}

	if !ValidFingerprint(fp) {
		return nil, &rejection{
			status:  http.StatusBadRequest,
			message: msgInvalidFP,
			reason:  reasonInvalidFP,
			details: map[string]interface{}{"fp": fp},
		}
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil || !v.fresh(ts) {
		return nil, &rejection{
			status:  http.StatusBadRequest,
			message: msgInvalidTimestamp,
			reason:  reasonInvalidTS,
			details: map[string]interface{}{
				"ts":  tsRaw,
				"now": v.now().UnixMilli(),
			},
		}
	}

	baseURL := requestBaseURL(r)
	expected := ComputeSignature(baseURL, clientType, fp, ts, v.secret)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return nil, &rejection{
			status:  http.StatusUnauthorized,
			message: msgInvalidSignature,
			reason:  reasonInvalidSig,
			details: map[string]interface{}{
				"base_url":           baseURL,
				"client":             client,
				"ts":                 ts,
				"provided_signature": sig,
			},
		}
	}

	if h := r.Header.Get(HeaderClientType); h != "" && h != client {
		return nil, &rejection{
			status:  http.StatusBadRequest,
			message: msgIdentityMismatch,
			reason:  reasonHeaderMismatch,
			details: map[string]interface{}{"header": HeaderClientType, "header_value": h, "query_value": client},
		}
	}
	if h := r.Header.Get(HeaderClientFingerprint); h != "" && h != fp {
		return nil, &rejection{
			status:  http.StatusBadRequest,
			message: msgIdentityMismatch,
			reason:  reasonHeaderMismatch,
			details: map[string]interface{}{"header": HeaderClientFingerprint, "header_value": h, "query_value": fp},
		}
	}

	allowed, err := v.limiter.Allow(r.Context(), fp)
	if err != nil {
		v.logger.Error("verification middleware error", zap.String("fingerprint", fp), zap.Error(err))
		return nil, internalRejection(err)
	}
	if !allowed {
		return nil, &rejection{
			status:  http.StatusTooManyRequests,
			message: msgTooManyRequests,
			reason:  reasonRateLimited,
		}
	}

	v.checkUserAgent(r, clientType, fp)

	return &Verification{
		Type:        clientType,
		Fingerprint: fp,
		Timestamp:   ts,
		ServerType:  serverType,
		Verified:    true,
	}, nil
}

// fresh reports whether ts (epoch ms) is within maxSkew of now, inclusive.
// Bounds are compared directly so extreme ts values cannot wrap around.
func (v *Verifier) fresh(ts int64) bool {
	now := v.now().UnixMilli()
	skew := v.maxSkew.Milliseconds()
	return ts >= now-skew && ts <= now+skew
}

func (v *Verifier) checkUserAgent(r *http.Request, client ClientType, fp string) {
	ua := r.UserAgent()
	if strings.Contains(ua, ProductToken) {
		return
	}
	fields := []zap.Field{
		zap.String("user_agent", ua),
		zap.String("client_type", string(client)),
		zap.String("fingerprint", fp),
		zap.String("ip", clientIP(r)),
	}
	if v.edition == ClientCommercial {
		v.logger.Warn("unexpected user agent on commercial request", fields...)
		return
	}
	v.logger.Debug("unexpected user agent on commercial request", fields...)
}

func (v *Verifier) reject(w http.ResponseWriter, r *http.Request, rej *rejection) {
	v.metrics.rejected(rej.reason)

	severity := securitylog.SeverityWarning
	switch rej.reason {
	case reasonInvalidSig, reasonHeaderMismatch:
		severity = securitylog.SeverityCritical
	case reasonRateLimited:
		severity = securitylog.SeverityInfo
	}

	headers := make(map[string]string, len(loggedHeaders))
	for _, h := range loggedHeaders {
		if val := r.Header.Get(h); val != "" {
			headers[strings.ToLower(h)] = val
		}
	}
	q := r.URL.Query()
	v.seclog.Record(securitylog.Event{
		Timestamp:   v.now().UTC(),
		Severity:    severity,
		Reason:      rej.reason,
		Status:      rej.status,
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
		Method:      r.Method,
		URL:         r.URL.RequestURI(),
		ClientType:  q.Get(ParamClient),
		Fingerprint: q.Get(ParamFingerprint),
		Headers:     headers,
		Details:     rej.details,
	})

	if rej.status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(int(v.retryAfter.Seconds())))
	}
	WriteError(w, rej.status, rej.message)
}

func internalRejection(err error) *rejection {
	return &rejection{
		status:  http.StatusInternalServerError,
		message: msgInternalError,
		reason:  reasonInternal,
		details: map[string]interface{}{"error": err.Error()},
	}
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the failure envelope {"success": false, "error": message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Envelope{Success: false, Error: message})
}

// requestBaseURL rebuilds scheme://host/path as the caller addressed it.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	} else if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(p, ",")[0]))
	}
	return scheme + "://" + r.Host + r.URL.EscapedPath()
}

// clientIP returns the first X-Forwarded-For entry, then X-Real-IP, then
// the host part of RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
