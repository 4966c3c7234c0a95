package cnwcommercial

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// OfflineValidator checks Ed25519-signed license files for installations
// that cannot reach the license server.
type OfflineValidator struct {
	trustedPublicKey string
	edition          ClientType
	now              func() time.Time
}

// NewOfflineValidator creates an offline license validator.
func NewOfflineValidator(opts ...OfflineOption) *OfflineValidator {
	v := &OfflineValidator{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyFile reads a license file from disk and verifies it.
func (v *OfflineValidator) VerifyFile(path string) (*OfflineLicenseData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read license file: %w", err)
	}
	return v.Verify(raw)
}

// Verify checks the signature over the raw "license" bytes, then decodes
// them. An expired license is returned together with ErrLicenseExpired so
// callers can still show its plan and features.
func (v *OfflineValidator) Verify(raw []byte) (*OfflineLicenseData, error) {
	var file OfflineLicenseFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLicenseFileInvalid, err)
	}
	if len(file.License) == 0 || file.Signature == "" {
		return nil, ErrLicenseFileInvalid
	}

	pubKey, err := v.publicKey(file.PublicKey)
	if err != nil {
		return nil, err
	}
	sig, err := base64.StdEncoding.DecodeString(file.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature decode: %v", ErrSignatureInvalid, err)
	}
	if !ed25519.Verify(pubKey, file.License, sig) {
		return nil, ErrSignatureInvalid
	}

	var data OfflineLicenseData
	if err := json.Unmarshal(file.License, &data); err != nil {
		return nil, fmt.Errorf("%w: parse license data: %v", ErrLicenseFileInvalid, err)
	}

	if v.edition != "" && data.Edition != "" && data.Edition != v.edition {
		return &data, fmt.Errorf("%w: license is %s, build is %s", ErrEditionMismatch, data.Edition, v.edition)
	}
	if !data.ExpiresAt.IsZero() && data.ExpiresAt.Before(v.now()) {
		return &data, ErrLicenseExpired
	}
	return &data, nil
}

// publicKey picks the pinned key, or the embedded one when none is pinned.
func (v *OfflineValidator) publicKey(embedded string) (ed25519.PublicKey, error) {
	encoded := embedded
	if v.trustedPublicKey != "" {
		encoded = v.trustedPublicKey
	}
	if encoded == "" {
		return nil, ErrPublicKeyInvalid
	}
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", ErrPublicKeyInvalid, err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: key length %d, expected %d", ErrPublicKeyInvalid, len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}
