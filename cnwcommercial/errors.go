package cnwcommercial

import (
	"errors"
	"fmt"
)

// Sentinel errors a commercial backend failure can match with errors.Is.
var (
	ErrLicenseNotFound      = errors.New("license not found")
	ErrLicenseInactive      = errors.New("license is not active")
	ErrLicenseExpired       = errors.New("license expired")
	ErrActivationLimit      = errors.New("activation limit reached")
	ErrPluginNotFound       = errors.New("plugin not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPaymentRequired      = errors.New("payment required")
	ErrRateLimited          = errors.New("rate limited by commercial service")
)

// Sentinel errors for offline license verification.
var (
	ErrSignatureInvalid   = errors.New("signature verification failed")
	ErrPublicKeyInvalid   = errors.New("invalid public key")
	ErrLicenseFileInvalid = errors.New("invalid license file format")
	ErrEditionMismatch    = errors.New("license issued for a different edition")
)

// Sentinel errors for endpoint resolution.
var (
	ErrUnknownServerType = errors.New("unknown server type")
	ErrCiphertextInvalid = errors.New("invalid endpoint ciphertext")
	ErrUntrustedEndpoint = errors.New("endpoint failed trust validation")
)

// codeSentinels maps backend error codes to sentinels. FORBIDDEN is
// resolved by message in ServerError.sentinel.
var codeSentinels = map[string]error{
	"NOT_FOUND":              ErrLicenseNotFound,
	"LICENSE_NOT_FOUND":      ErrLicenseNotFound,
	"PLUGIN_NOT_FOUND":       ErrPluginNotFound,
	"SUBSCRIPTION_NOT_FOUND": ErrSubscriptionNotFound,
	"ACTIVATION_LIMIT":       ErrActivationLimit,
	"PAYMENT_REQUIRED":       ErrPaymentRequired,
	"RATE_LIMITED":           ErrRateLimited,
}

// ServerError is a non-2xx or unsuccessful response from a commercial
// backend. Backends send either {"error": {"code", "message"}} or the flat
// envelope {"success": false, "error": "..."}; both end up here.
//
// errors.Is matches the sentinel for Code, so callers can test for
// ErrPluginNotFound and still errors.As the status and message.
type ServerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ServerError) Error() string {
	if s := e.sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("server error %d: [%s] %s", e.StatusCode, e.Code, e.Message)
}

func (e *ServerError) Is(target error) bool {
	s := e.sentinel()
	return s != nil && s == target
}

func (e *ServerError) sentinel() error {
	if e.Code == "FORBIDDEN" {
		if e.Message == ErrLicenseExpired.Error() {
			return ErrLicenseExpired
		}
		return ErrLicenseInactive
	}
	return codeSentinels[e.Code]
}
