package cnwcommercial

import (
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func TestComputeSignature_KnownVector(t *testing.T) {
	got := ComputeSignature(
		"https://plugins.cloudnativeworks.io/api/v1/plugins/browse",
		ClientOpenSource,
		"abcdef0123456789",
		1700000000000,
		DeriveSharedSecret(),
	)
	if got != "2c0e72b65c45" {
		t.Errorf("expected 2c0e72b65c45, got %s", got)
	}
}

func TestComputeSignature_InputsMatter(t *testing.T) {
	base := ComputeSignature("https://a.cloudnativeworks.io/api/v1/x", ClientOpenSource, "abcdef0123456789", 1, "s")
	variants := map[string]string{
		"url":    ComputeSignature("https://a.cloudnativeworks.io/api/v1/y", ClientOpenSource, "abcdef0123456789", 1, "s"),
		"client": ComputeSignature("https://a.cloudnativeworks.io/api/v1/x", ClientCommercial, "abcdef0123456789", 1, "s"),
		"fp":     ComputeSignature("https://a.cloudnativeworks.io/api/v1/x", ClientOpenSource, "abcdef012345678a", 1, "s"),
		"ts":     ComputeSignature("https://a.cloudnativeworks.io/api/v1/x", ClientOpenSource, "abcdef0123456789", 2, "s"),
		"secret": ComputeSignature("https://a.cloudnativeworks.io/api/v1/x", ClientOpenSource, "abcdef0123456789", 1, "t"),
	}
	for name, sig := range variants {
		if sig == base {
			t.Errorf("changing %s did not change the signature", name)
		}
		if len(sig) != SignatureLength {
			t.Errorf("%s: expected %d chars, got %d", name, SignatureLength, len(sig))
		}
	}
}

func TestSigner_SignURL(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	s := NewSigner(ClientOpenSource, "abcdef0123456789", WithSignerClock(func() time.Time { return now }))

	signed, err := s.SignURL("https://plugins.cloudnativeworks.io/api/v1/plugins/browse?category=payments", ServerPlugin)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	u, _ := url.Parse(signed)
	q := u.Query()
	if q.Get("category") != "payments" {
		t.Errorf("existing query parameter lost: %s", signed)
	}
	if q.Get(ParamSignature) != "2c0e72b65c45" {
		t.Errorf("query must not be part of the signed base URL, got sig %s", q.Get(ParamSignature))
	}
	if q.Get(ParamTimestamp) != strconv.FormatInt(now.UnixMilli(), 10) {
		t.Errorf("unexpected ts %s", q.Get(ParamTimestamp))
	}
	if q.Get(ParamServerType) != "plugin" || q.Get(ParamClient) != "opensource" || q.Get(ParamFingerprint) != "abcdef0123456789" {
		t.Errorf("missing identity parameters: %s", signed)
	}
}

func TestSigner_SignURLRejectsBadURL(t *testing.T) {
	s := NewSigner(ClientOpenSource, "abcdef0123456789")
	if _, err := s.SignURL("http://[::1", ServerPlugin); err == nil {
		t.Error("expected parse error")
	}
}

func TestSigner_SignRequestSetsHeaders(t *testing.T) {
	s := NewSigner(ClientCommercial, "0123456789abcdef", WithSignerSecret("custom"))
	req, _ := http.NewRequest(http.MethodGet, "https://saas.cloudnativeworks.io/api/v1/saas/plans", nil)
	s.SignRequest(req, ServerSaaS)

	if req.Header.Get(HeaderClientType) != "commercial" {
		t.Errorf("expected X-Client-Type commercial, got %q", req.Header.Get(HeaderClientType))
	}
	if req.Header.Get(HeaderClientFingerprint) != "0123456789abcdef" {
		t.Errorf("expected fingerprint header, got %q", req.Header.Get(HeaderClientFingerprint))
	}
	q := req.URL.Query()
	ts, _ := strconv.ParseInt(q.Get(ParamTimestamp), 10, 64)
	want := ComputeSignature("https://saas.cloudnativeworks.io/api/v1/saas/plans", ClientCommercial, "0123456789abcdef", ts, "custom")
	if q.Get(ParamSignature) != want {
		t.Errorf("expected sig %s, got %s", want, q.Get(ParamSignature))
	}
}
