package cnwcommercial

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_ResolveCompiledEndpoints(t *testing.T) {
	want := map[ServerType]string{
		ServerLicense:   "https://license.cloudnativeworks.io/api/v1/license",
		ServerPlugin:    "https://plugins.cloudnativeworks.io/api/v1/plugins",
		ServerUpdate:    "https://updates.cloudnativeworks.io/api/v1/updates",
		ServerSaaS:      "https://saas.cloudnativeworks.io/api/v1/saas",
		ServerAnalytics: "https://analytics.cloudnativeworks.io/api/v1/analytics",
	}
	r := NewRegistry(WithEdition(ClientOpenSource), WithAppVersion("2.3.4"))
	for st, base := range want {
		got := r.Resolve(st)
		u, err := url.Parse(got)
		if err != nil {
			t.Fatalf("%s: resolved URL does not parse: %v", st, err)
		}
		if u.Scheme+"://"+u.Host+u.Path != base {
			t.Errorf("%s: expected %s, got %s", st, base, got)
		}
		if u.Query().Get(ParamClient) != "opensource" {
			t.Errorf("%s: expected client=opensource, got %q", st, u.Query().Get(ParamClient))
		}
		if u.Query().Get(ParamVersion) != "2.3.4" {
			t.Errorf("%s: expected v=2.3.4, got %q", st, u.Query().Get(ParamVersion))
		}
	}
}

func TestRegistry_CorruptedCiphertextFallsBack(t *testing.T) {
	good := defaultCiphertexts[ServerPlugin]
	flipped := []byte(good)
	if flipped[40] == 'a' {
		flipped[40] = 'b'
	} else {
		flipped[40] = 'a'
	}

	cases := map[string]string{
		"tampered": string(flipped),
		"not hex":  "zz-not-hex",
		"short":    "00ff",
		"empty":    "",
	}
	for name, ct := range cases {
		t.Run(name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			m := NewMetrics(reg)
			r := NewRegistry(
				WithEdition(ClientOpenSource),
				WithCiphertext(ServerPlugin, ct),
				WithRegistryMetrics(m),
			)
			got := r.Resolve(ServerPlugin)
			if !strings.HasPrefix(got, FallbackOpenSourceURL+"?") {
				t.Errorf("expected fallback URL, got %s", got)
			}
			if n := testutil.ToFloat64(m.endpointFallbacks.WithLabelValues("plugin", "decrypt")); n != 1 {
				t.Errorf("expected 1 decrypt fallback, got %v", n)
			}
		})
	}
}

func TestRegistry_UnknownServerTypeFallsBack(t *testing.T) {
	r := NewRegistry(WithEdition(ClientCommercial))
	got := r.Resolve(ServerType("billing"))
	if !strings.HasPrefix(got, FallbackCommercialURL+"?") {
		t.Errorf("expected commercial fallback, got %s", got)
	}
	if !strings.Contains(got, "client=commercial") {
		t.Errorf("expected client=commercial in %s", got)
	}
}

func TestRegistry_WrongKeyFallsBack(t *testing.T) {
	// A ciphertext sealed for the license key must not open as plugin.
	r := NewRegistry(
		WithEdition(ClientOpenSource),
		WithCiphertext(ServerPlugin, defaultCiphertexts[ServerLicense]),
	)
	if got := r.Resolve(ServerPlugin); !strings.HasPrefix(got, FallbackOpenSourceURL) {
		t.Errorf("expected fallback, got %s", got)
	}
}

func TestRegistry_UntrustedPlaintextFallsBack(t *testing.T) {
	cases := map[string]string{
		"http scheme":     "http://plugins.cloudnativeworks.io/api/v1/plugins",
		"foreign host":    "https://plugins.evil.example/api/v1/plugins",
		"suffix trick":    "https://cloudnativeworks.io.evil.example/api/v1/plugins",
		"embedded domain": "https://evilcloudnativeworks.io/api/v1/plugins",
		"no version":      "https://plugins.cloudnativeworks.io/api/plugins",
		"not a url":       "::::",
	}
	for name, plain := range cases {
		t.Run(name, func(t *testing.T) {
			ct, err := EncryptEndpoint("", ServerPlugin, plain)
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}
			r := NewRegistry(WithEdition(ClientOpenSource), WithCiphertext(ServerPlugin, ct))
			if got := r.Resolve(ServerPlugin); !strings.HasPrefix(got, FallbackOpenSourceURL) {
				t.Errorf("expected fallback for %q, got %s", plain, got)
			}
		})
	}
}

func TestRegistry_CustomSecretRoundTrip(t *testing.T) {
	const endpoint = "https://store.cloudnativeworks.io/api/v2/plugins"
	ct, err := EncryptEndpoint("other-secret", ServerPlugin, endpoint)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	r := NewRegistry(WithEndpointSecret("other-secret"), WithCiphertext(ServerPlugin, ct))
	if got := r.Resolve(ServerPlugin); !strings.HasPrefix(got, endpoint+"?") {
		t.Errorf("expected %s, got %s", endpoint, got)
	}

	// Default secret cannot open it.
	r = NewRegistry(WithCiphertext(ServerPlugin, ct))
	if got := r.Resolve(ServerPlugin); strings.HasPrefix(got, endpoint) {
		t.Errorf("expected fallback with wrong secret, got %s", got)
	}
}

func TestValidateEndpoint(t *testing.T) {
	if err := validateEndpoint("https://cloudnativeworks.io/api/v1", TrustedDomain); err != nil {
		t.Errorf("root domain should be trusted: %v", err)
	}
	err := validateEndpoint("https://example.com/api/v1", TrustedDomain)
	if !errors.Is(err, ErrUntrustedEndpoint) {
		t.Errorf("expected ErrUntrustedEndpoint, got %v", err)
	}
}

func TestEditionFromEnv(t *testing.T) {
	t.Setenv(EditionEnv, "Commercial")
	if got := EditionFromEnv(); got != ClientCommercial {
		t.Errorf("expected commercial, got %s", got)
	}
	t.Setenv(EditionEnv, "enterprise")
	if got := EditionFromEnv(); got != ClientOpenSource {
		t.Errorf("expected opensource for unknown value, got %s", got)
	}
}
