package cnwcommercial

import "time"

// OfflineOption configures an OfflineValidator.
type OfflineOption func(*OfflineValidator)

// WithTrustedPublicKey pins the base64 Ed25519 key license files must be
// signed with. The key embedded in the file is then ignored.
func WithTrustedPublicKey(base64PubKey string) OfflineOption {
	return func(v *OfflineValidator) {
		v.trustedPublicKey = base64PubKey
	}
}

// WithRequiredEdition rejects licenses issued for another edition.
// Licenses that name no edition are accepted.
func WithRequiredEdition(edition ClientType) OfflineOption {
	return func(v *OfflineValidator) {
		v.edition = edition
	}
}

// WithOfflineClock sets the time source used for the expiry check.
func WithOfflineClock(now func() time.Time) OfflineOption {
	return func(v *OfflineValidator) {
		v.now = now
	}
}
