package cnwcommercial

import "go.uber.org/zap"

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithEdition sets the edition reported in resolved URLs. It also selects
// the canonical fallback URL unless WithFallbackURL is given.
func WithEdition(edition ClientType) RegistryOption {
	return func(r *Registry) {
		r.edition = edition
	}
}

// WithAppVersion sets the version reported in the v query parameter.
func WithAppVersion(version string) RegistryOption {
	return func(r *Registry) {
		r.version = version
	}
}

// WithCiphertext replaces the ciphertext for one server type.
func WithCiphertext(serverType ServerType, hexCiphertext string) RegistryOption {
	return func(r *Registry) {
		r.ciphertexts[serverType] = hexCiphertext
	}
}

// WithEndpointSecret replaces the base secret mixed into each endpoint key.
func WithEndpointSecret(secret string) RegistryOption {
	return func(r *Registry) {
		r.baseSecret = secret
	}
}

// WithTrustedDomain sets the root domain decrypted endpoints must use.
func WithTrustedDomain(domain string) RegistryOption {
	return func(r *Registry) {
		r.trustedDomain = domain
	}
}

// WithFallbackURL overrides the edition's canonical fallback URL.
func WithFallbackURL(u string) RegistryOption {
	return func(r *Registry) {
		r.fallbackURL = u
	}
}

// WithRegistryLogger sets the logger used to report fallbacks.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithRegistryMetrics sets the collectors that count fallbacks.
func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}
