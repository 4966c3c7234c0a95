package cnwcommercial

import (
	"os"
	"testing"
)

func TestGenerateFingerprint_Shape(t *testing.T) {
	os.Unsetenv(FingerprintEnv)

	fp, err := GenerateFingerprint()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ValidFingerprint(fp) {
		t.Errorf("expected 16 lowercase hex chars, got %q", fp)
	}
}

func TestGenerateFingerprint_Deterministic(t *testing.T) {
	fp1, err := GenerateFingerprint()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fp2, err := GenerateFingerprint()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp1 != fp2 {
		t.Errorf("fingerprint should be deterministic: %s != %s", fp1, fp2)
	}
}

func TestGenerateFingerprint_EnvOverride(t *testing.T) {
	const custom = "0123456789abcdef"
	t.Setenv(FingerprintEnv, custom)

	fp, err := GenerateFingerprint()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp != custom {
		t.Errorf("expected %q, got %q", custom, fp)
	}
}

func TestGenerateFingerprint_MalformedOverrideIgnored(t *testing.T) {
	t.Setenv(FingerprintEnv, "custom-fingerprint-from-env")

	fp, err := GenerateFingerprint()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp == "custom-fingerprint-from-env" {
		t.Fatal("malformed override should be ignored")
	}
	if !ValidFingerprint(fp) {
		t.Errorf("expected generated fingerprint, got %q", fp)
	}
}

func TestValidFingerprint(t *testing.T) {
	tests := []struct {
		fp   string
		want bool
	}{
		{"abcdef0123456789", true},
		{"0000000000000000", true},
		{"ABCDEF0123456789", false},
		{"abcdef012345678", false},
		{"abcdef01234567890", false},
		{"abcdefg123456789", false},
		{"", false},
		{"abcdef0123456789\n", false},
	}
	for _, tt := range tests {
		if got := ValidFingerprint(tt.fp); got != tt.want {
			t.Errorf("ValidFingerprint(%q) = %v, want %v", tt.fp, got, tt.want)
		}
	}
}

func TestEphemeralIface(t *testing.T) {
	for name, want := range map[string]bool{
		"eth0":         false,
		"enp3s0":       false,
		"veth12ab":     true,
		"docker0":      true,
		"br-5f2c":      true,
		"cni0":         true,
		"flannel.1":    true,
		"cali1234abcd": true,
		"wlp2s0":       false,
	} {
		if got := ephemeralIface(name); got != want {
			t.Errorf("ephemeralIface(%q) = %v, want %v", name, got, want)
		}
	}
}
