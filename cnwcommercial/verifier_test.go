package cnwcommercial

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CloudNativeWorks/cnw-commercial-sdk/cnwcommercial/ratelimit"
	"github.com/CloudNativeWorks/cnw-commercial-sdk/cnwcommercial/securitylog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testFP     = "abcdef0123456789"
	testTarget = "https://plugins.cloudnativeworks.io/api/commercial/plugins"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock    *testClock
	limiter  *ratelimit.MemoryLimiter
	verifier *Verifier
	metrics  *Metrics
	logs     *observer.ObservedLogs
	handler  http.Handler

	mu    sync.Mutex
	got   *Verification
	calls int
}

func newFixture(t *testing.T, opts ...VerifierOption) *fixture {
	t.Helper()
	f := &fixture{clock: &testClock{t: time.UnixMilli(1700000000000)}}
	f.limiter = ratelimit.NewMemoryLimiter(ratelimit.DefaultConfig(),
		ratelimit.WithClock(f.clock.Now),
		ratelimit.WithoutSweeper(),
	)
	t.Cleanup(func() { f.limiter.Close() })

	core, logs := observer.New(zapcore.DebugLevel)
	f.logs = logs
	f.metrics = NewMetrics(prometheus.NewRegistry())
	logger := zap.New(core)

	base := []VerifierOption{
		WithLimiter(f.limiter),
		WithVerifierClock(f.clock.Now),
		WithVerifierLogger(logger),
		WithVerifierMetrics(f.metrics),
		WithSecurityLog(securitylog.New(logger)),
		WithVerifierEdition(ClientOpenSource),
	}
	f.verifier = NewVerifier(append(base, opts...)...)
	f.handler = f.verifier.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ver, _ := VerificationFromContext(r.Context())
		f.mu.Lock()
		f.got = ver
		f.calls++
		f.mu.Unlock()
		WriteJSON(w, http.StatusOK, Envelope{Success: true})
	}))
	return f
}

// request builds a request to target signed at the given time.
func (f *fixture) request(t *testing.T, target string, client ClientType, fp string, at time.Time) *http.Request {
	t.Helper()
	s := NewSigner(client, fp, WithSignerClock(func() time.Time { return at }))
	signed, err := s.SignURL(target, ServerPlugin)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, signed, nil)
	req.Header.Set("User-Agent", UserAgent(client, "1.0.0"))
	return req
}

func (f *fixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return env
}

func expectRejection(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	env := decodeEnvelope(t, rec)
	if env.Success {
		t.Error("expected success=false")
	}
	if env.Error != message {
		t.Errorf("expected error %q, got %q", message, env.Error)
	}
}

func (f *fixture) lastSecurityReason(t *testing.T) string {
	t.Helper()
	entries := f.logs.FilterMessage("suspicious commercial request").All()
	if len(entries) == 0 {
		t.Fatal("expected a security log entry")
	}
	return entries[len(entries)-1].ContextMap()["reason"].(string)
}

func TestVerifier_SignedRequestPasses(t *testing.T) {
	f := newFixture(t)
	rec := f.serve(f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if f.got == nil {
		t.Fatal("expected verification in context")
	}
	want := Verification{
		Type:        ClientOpenSource,
		Fingerprint: testFP,
		Timestamp:   f.clock.Now().UnixMilli(),
		ServerType:  "plugin",
		Verified:    true,
	}
	if *f.got != want {
		t.Errorf("expected %+v, got %+v", want, *f.got)
	}
	if n := testutil.ToFloat64(f.metrics.verifications.WithLabelValues("accepted", "")); n != 1 {
		t.Errorf("expected 1 accepted, got %v", n)
	}
	if f.logs.FilterMessage("commercial request verified").Len() != 1 {
		t.Error("expected success log line")
	}
}

func TestVerifier_AlteredSignatureRejected(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now())

	q := req.URL.Query()
	sig := []byte(q.Get(ParamSignature))
	if sig[0] == '0' {
		sig[0] = '1'
	} else {
		sig[0] = '0'
	}
	q.Set(ParamSignature, string(sig))
	req.URL.RawQuery = q.Encode()

	rec := f.serve(req)
	expectRejection(t, rec, http.StatusUnauthorized, "Invalid request signature")
	if f.calls != 0 {
		t.Error("handler must not run")
	}
	if reason := f.lastSecurityReason(t); reason != "invalid_signature" {
		t.Errorf("expected invalid_signature, got %s", reason)
	}
	if strings.Contains(rec.Body.String(), ComputeSignature(testTarget, ClientOpenSource, testFP, f.clock.Now().UnixMilli(), DeriveSharedSecret())) {
		t.Error("response leaks the expected signature")
	}
}

func TestVerifier_SignatureBoundToPath(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now())
	req.URL.Path = "/api/commercial/saas/plans"

	expectRejection(t, f.serve(req), http.StatusUnauthorized, msgInvalidSignature)
}

func TestVerifier_TimestampBoundary(t *testing.T) {
	cases := []struct {
		name   string
		offset time.Duration
		pass   bool
	}{
		{"now", 0, true},
		{"exactly 5m old", -5 * time.Minute, true},
		{"5m and 1ms old", -5*time.Minute - time.Millisecond, false},
		{"exactly 5m ahead", 5 * time.Minute, true},
		{"5m and 1ms ahead", 5*time.Minute + time.Millisecond, false},
		{"an hour old", -time.Hour, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.serve(f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now().Add(tc.offset)))
			if tc.pass {
				if rec.Code != http.StatusOK {
					t.Errorf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
				}
				return
			}
			expectRejection(t, rec, http.StatusBadRequest, msgInvalidTimestamp)
		})
	}
}

func TestVerifier_ExtremeTimestampsRejected(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now().UnixMilli()
	cases := map[string]int64{
		"now minus 2^63": now + math.MinInt64,
		"min int64":      math.MinInt64,
		"max int64":      math.MaxInt64,
		"zero":           0,
	}
	for name, ts := range cases {
		t.Run(name, func(t *testing.T) {
			u, err := url.Parse(testTarget)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			q := u.Query()
			q.Set(ParamClient, string(ClientOpenSource))
			q.Set(ParamFingerprint, testFP)
			q.Set(ParamTimestamp, strconv.FormatInt(ts, 10))
			q.Set(ParamSignature, ComputeSignature(canonicalBaseURL(u), ClientOpenSource, testFP, ts, DeriveSharedSecret()))
			q.Set(ParamServerType, string(ServerPlugin))
			u.RawQuery = q.Encode()

			expectRejection(t, f.serve(httptest.NewRequest(http.MethodGet, u.String(), nil)),
				http.StatusBadRequest, msgInvalidTimestamp)
		})
	}
}

func TestVerifier_NonNumericTimestamp(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now())
	q := req.URL.Query()
	q.Set(ParamTimestamp, "yesterday")
	req.URL.RawQuery = q.Encode()

	expectRejection(t, f.serve(req), http.StatusBadRequest, msgInvalidTimestamp)
}

func TestVerifier_BadFingerprintRejectedBeforeSignature(t *testing.T) {
	for _, fp := range []string{
		"ABCDEF0123456789",
		"abcdef012345678",
		"abcdef01234567890",
		"ghijkl0123456789",
		"abcdef01-3456789",
	} {
		t.Run(fp, func(t *testing.T) {
			f := newFixture(t)
			req := f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now())
			q := req.URL.Query()
			q.Set(ParamFingerprint, fp)
			q.Set(ParamSignature, "000000000000")
			req.URL.RawQuery = q.Encode()

			expectRejection(t, f.serve(req), http.StatusBadRequest, msgInvalidFP)
			if reason := f.lastSecurityReason(t); reason != "invalid_fingerprint" {
				t.Errorf("expected invalid_fingerprint, got %s", reason)
			}
		})
	}
}

func TestVerifier_MissingParameters(t *testing.T) {
	for _, param := range []string{ParamClient, ParamFingerprint, ParamTimestamp, ParamSignature, ParamServerType} {
		t.Run(param, func(t *testing.T) {
			f := newFixture(t)
			req := f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now())
			q := req.URL.Query()
			q.Del(param)
			req.URL.RawQuery = q.Encode()

			expectRejection(t, f.serve(req), http.StatusBadRequest, "Invalid request parameters")
		})
	}
}

func TestVerifier_InvalidClientType(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, testTarget, ClientType("enterprise"), testFP, f.clock.Now())

	expectRejection(t, f.serve(req), http.StatusBadRequest, msgInvalidClient)
	if reason := f.lastSecurityReason(t); reason != "invalid_client" {
		t.Errorf("expected invalid_client, got %s", reason)
	}
}

func TestVerifier_HeaderMismatch(t *testing.T) {
	t.Run("client type", func(t *testing.T) {
		f := newFixture(t)
		req := f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now())
		req.Header.Set(HeaderClientType, "commercial")

		expectRejection(t, f.serve(req), http.StatusBadRequest, msgIdentityMismatch)
		if reason := f.lastSecurityReason(t); reason != "header_mismatch" {
			t.Errorf("expected header_mismatch, got %s", reason)
		}
	})
	t.Run("fingerprint", func(t *testing.T) {
		f := newFixture(t)
		req := f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now())
		req.Header.Set(HeaderClientFingerprint, "0123456789abcdef")

		expectRejection(t, f.serve(req), http.StatusBadRequest, msgIdentityMismatch)
	})
	t.Run("matching headers pass", func(t *testing.T) {
		f := newFixture(t)
		req := f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now())
		req.Header.Set(HeaderClientType, "opensource")
		req.Header.Set(HeaderClientFingerprint, testFP)

		if rec := f.serve(req); rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})
}

func TestVerifier_RateLimit(t *testing.T) {
	f := newFixture(t)

	for i := 1; i <= 100; i++ {
		rec := f.serve(f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now()))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := f.serve(f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now()))
	expectRejection(t, rec, http.StatusTooManyRequests, "Too many requests")
	if ra := rec.Header().Get("Retry-After"); ra != "60" {
		t.Errorf("expected Retry-After 60, got %q", ra)
	}
	if reason := f.lastSecurityReason(t); reason != "rate_limited" {
		t.Errorf("expected rate_limited, got %s", reason)
	}

	// Another fingerprint is unaffected.
	if rec := f.serve(f.request(t, testTarget, ClientOpenSource, "0123456789abcdef", f.clock.Now())); rec.Code != http.StatusOK {
		t.Errorf("other fingerprint: expected 200, got %d", rec.Code)
	}

	f.clock.Advance(61 * time.Second)
	if rec := f.serve(f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now())); rec.Code != http.StatusOK {
		t.Errorf("after window: expected 200, got %d", rec.Code)
	}
}

type errLimiter struct{ err error }

func (l errLimiter) Allow(context.Context, string) (bool, error) { return false, l.err }

type panicLimiter struct{}

func (panicLimiter) Allow(context.Context, string) (bool, error) { panic("boom") }

func TestVerifier_LimiterErrorIsInternal(t *testing.T) {
	f := newFixture(t, WithLimiter(errLimiter{err: errors.New("redis down")}))
	rec := f.serve(f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now()))

	expectRejection(t, rec, http.StatusInternalServerError, "Internal server error")
	if f.logs.FilterMessage("verification middleware error").Len() == 0 {
		t.Error("expected verification middleware error log")
	}
	if strings.Contains(rec.Body.String(), "redis") {
		t.Error("response leaks internal error")
	}
}

func TestVerifier_PanicIsInternal(t *testing.T) {
	f := newFixture(t, WithLimiter(panicLimiter{}))
	rec := f.serve(f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now()))

	expectRejection(t, rec, http.StatusInternalServerError, "Internal server error")
	if f.logs.FilterMessage("verification middleware error").Len() != 1 {
		t.Error("expected verification middleware error log")
	}
}

func TestVerifier_ForwardedProto(t *testing.T) {
	f := newFixture(t)
	signed := f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now())

	// Same signed query arriving over plain http behind a TLS terminator.
	req := httptest.NewRequest(http.MethodGet, "http://plugins.cloudnativeworks.io"+signed.URL.RequestURI(), nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	if rec := f.serve(req); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with X-Forwarded-Proto, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "http://plugins.cloudnativeworks.io"+signed.URL.RequestURI(), nil)
	expectRejection(t, f.serve(req), http.StatusUnauthorized, msgInvalidSignature)
}

func TestVerifier_UserAgentAdvisory(t *testing.T) {
	t.Run("commercial edition warns", func(t *testing.T) {
		f := newFixture(t, WithVerifierEdition(ClientCommercial))
		req := f.request(t, testTarget, ClientCommercial, testFP, f.clock.Now())
		req.Header.Set("User-Agent", "curl/8.4.0")

		if rec := f.serve(req); rec.Code != http.StatusOK {
			t.Fatalf("advisory check must not reject, got %d", rec.Code)
		}
		entries := f.logs.FilterMessage("unexpected user agent on commercial request").All()
		if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
			t.Errorf("expected one warn entry, got %+v", entries)
		}
	})
	t.Run("opensource edition is lenient", func(t *testing.T) {
		f := newFixture(t)
		req := f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now())
		req.Header.Set("User-Agent", "curl/8.4.0")

		if rec := f.serve(req); rec.Code != http.StatusOK {
			t.Fatalf("advisory check must not reject, got %d", rec.Code)
		}
		entries := f.logs.FilterMessage("unexpected user agent on commercial request").All()
		if len(entries) != 1 || entries[0].Level != zapcore.DebugLevel {
			t.Errorf("expected one debug entry, got %+v", entries)
		}
	})
	t.Run("product token is quiet", func(t *testing.T) {
		f := newFixture(t, WithVerifierEdition(ClientCommercial))
		f.serve(f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now()))
		if n := f.logs.FilterMessage("unexpected user agent on commercial request").Len(); n != 0 {
			t.Errorf("expected no advisory, got %d", n)
		}
	})
}

func TestVerifier_SecurityEventPersisted(t *testing.T) {
	store := securitylog.NewMemoryStore()
	seclog := securitylog.New(zap.NewNop(), securitylog.WithStore(store))
	f := newFixture(t, WithSecurityLog(seclog))

	req := f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now())
	req.Header.Set(HeaderClientType, "commercial")
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	f.serve(req)

	if err := seclog.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	events, _ := store.List(context.Background(), securitylog.Filter{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.IP != "198.51.100.4" {
		t.Errorf("expected first forwarded IP, got %s", e.IP)
	}
	if e.Reason != "header_mismatch" || e.Status != http.StatusBadRequest {
		t.Errorf("unexpected reason/status %s/%d", e.Reason, e.Status)
	}
	if e.Severity != securitylog.SeverityCritical {
		t.Errorf("expected critical severity, got %s", e.Severity)
	}
	if e.Fingerprint != testFP || e.ClientType != "opensource" {
		t.Errorf("unexpected identity %s/%s", e.ClientType, e.Fingerprint)
	}
	if e.Headers["x-client-type"] != "commercial" {
		t.Errorf("expected x-client-type header captured, got %v", e.Headers)
	}
}

func TestVerifier_SecurityEventKeepsTypedDetails(t *testing.T) {
	store := securitylog.NewMemoryStore()
	seclog := securitylog.New(zap.NewNop(), securitylog.WithStore(store))
	f := newFixture(t, WithSecurityLog(seclog))

	req := f.request(t, testTarget, ClientOpenSource, testFP, f.clock.Now())
	q := req.URL.Query()
	q.Del(ParamSignature)
	req.URL.RawQuery = q.Encode()
	expectRejection(t, f.serve(req), http.StatusBadRequest, msgInvalidParams)

	if err := seclog.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	events, _ := store.List(context.Background(), securitylog.Filter{Reason: "missing_params"})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if v, ok := events[0].Details["has_sig"].(bool); !ok || v {
		t.Errorf("expected has_sig=false as a bool, got %#v", events[0].Details["has_sig"])
	}

	// Stores encode details as JSON documents; booleans must stay booleans.
	raw, err := json.Marshal(events[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded securitylog.Event
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := decoded.Details["has_client"].(bool); !ok || !v {
		t.Errorf("expected has_client=true after encoding, got %#v", decoded.Details["has_client"])
	}
}

func TestVerifier_DefaultLimiterClosed(t *testing.T) {
	v := NewVerifier()
	if err := v.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.2"}, "10.0.0.3:1234", "203.0.113.1"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.2"}, "10.0.0.3:1234", "203.0.113.2"},
		{"remote addr", nil, "192.0.2.9:4321", "192.0.2.9"},
		{"remote addr without port", nil, "192.0.2.10", "192.0.2.10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
