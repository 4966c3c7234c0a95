package cnwcommercial

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
)

// TrustedDomain is the root domain every decrypted endpoint must live under.
const TrustedDomain = "cloudnativeworks.io"

// Public fallback endpoints, one per edition.
const (
	FallbackOpenSourceURL = "https://api.cloudnativeworks.io/api/v1/public"
	FallbackCommercialURL = "https://api.cloudnativeworks.io/api/v1/commercial"
)

var versionedAPIPath = regexp.MustCompile(`/api/v[0-9]+(/|$)`)

// defaultCiphertexts are the compiled-in endpoint blobs. Each is
// hex(nonce || chacha20poly1305.Seal(url)) keyed by
// SHA-256(endpointSecret() + serverType).
var defaultCiphertexts = map[ServerType]string{
	ServerLicense:   "9e94b49bc06499c3484a0e9d85e2e68b90ae67f1890d431b65ceccf44e7978efa517308a3cc9e1f4d487223b1991104ec2e2db2b336f4e2881e1be17472b26978df0b69fb0b724a3e955c46f97e2",
	ServerPlugin:    "455141c3816dae90a9aab00c10507df2bcb741296de0636ce8a7fcbe5dd04011621b425a5ded946cc8c12befe4b5e0c11f5089d6947bf3e4ea4c8040560e3b02533f9cf540d5b42b08e9aae665fd",
	ServerUpdate:    "29090ce8b53271990d124969b163dbd848ff2384b1a437b9b57b2c11da12bf88d8fd72f80965374490d11312354d7a254cc6ec80ccd1958e00304226b684821472ab4e045856fba76b859539dba7",
	ServerSaaS:      "593d3001dc40666de5467edb808b798cfd441c7df8d7abee9926a0f39580625667d98ec140ec34ca88277c8e8676de8bcf6b899657a7149bdc39695e3b603789035c94d0e4a38c57",
	ServerAnalytics: "029cb1982c35dc7510c646c9ab417d672a1799067d421db5843c65a6aed98b7076492e3aad20e7cd39697b2c99950176305091ac2851cbf34e5b2a3ea315139ee9721a4fb00e285aac30fefc69ada99fe249",
}

// DefaultFallbackURL returns the canonical public endpoint for an edition.
func DefaultFallbackURL(edition ClientType) string {
	if edition == ClientCommercial {
		return FallbackCommercialURL
	}
	return FallbackOpenSourceURL
}

// Registry resolves encrypted commercial endpoints. Resolution never fails:
// anything that does not decrypt to a trusted URL yields the fallback.
type Registry struct {
	ciphertexts   map[ServerType]string
	baseSecret    string
	trustedDomain string
	fallbackURL   string
	edition       ClientType
	version       string
	logger        *zap.Logger
	metrics       *Metrics
}

// NewRegistry creates a Registry holding the compiled-in ciphertexts.
// The edition defaults to EditionFromEnv().
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		ciphertexts:   make(map[ServerType]string, len(defaultCiphertexts)),
		baseSecret:    endpointSecret(),
		trustedDomain: TrustedDomain,
		edition:       EditionFromEnv(),
		version:       Version,
		logger:        zap.NewNop(),
	}
	for st, ct := range defaultCiphertexts {
		r.ciphertexts[st] = ct
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fallbackURL == "" {
		r.fallbackURL = DefaultFallbackURL(r.edition)
	}
	return r
}

// Edition returns the edition the registry reports in resolved URLs.
func (r *Registry) Edition() ClientType { return r.edition }

// Version returns the application version the registry reports.
func (r *Registry) Version() string { return r.version }

// FallbackURL returns the public endpoint used when resolution fails.
func (r *Registry) FallbackURL() string { return r.fallbackURL }

// Resolve returns the endpoint for serverType with client and v query
// parameters appended. Unknown types, undecryptable ciphertexts and
// decrypted URLs that fail validation all resolve to the fallback URL.
func (r *Registry) Resolve(serverType ServerType) string {
	endpoint, err := r.decrypt(serverType)
	if err != nil {
		cause := "decrypt"
		switch {
		case errors.Is(err, ErrUnknownServerType):
			cause = "unknown_type"
		case errors.Is(err, ErrUntrustedEndpoint):
			cause = "untrusted"
		}
		r.logger.Warn("commercial endpoint fell back to public URL",
			zap.String("server_type", string(serverType)),
			zap.String("cause", cause),
			zap.Error(err),
		)
		r.metrics.fallback(serverType, cause)
		endpoint = r.fallbackURL
	}
	return r.withClientParams(endpoint)
}

func (r *Registry) decrypt(serverType ServerType) (string, error) {
	ct, ok := r.ciphertexts[serverType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownServerType, serverType)
	}
	plain, err := decryptEndpoint(r.baseSecret, serverType, ct)
	if err != nil {
		return "", err
	}
	if err := validateEndpoint(plain, r.trustedDomain); err != nil {
		return "", err
	}
	return plain, nil
}

func (r *Registry) withClientParams(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		// Only reachable with a malformed custom fallback.
		return endpoint
	}
	q := u.Query()
	q.Set(ParamClient, string(r.edition))
	q.Set(ParamVersion, r.version)
	u.RawQuery = q.Encode()
	return u.String()
}

// validateEndpoint requires https, a host under trustedDomain and a
// versioned API path segment such as /api/v1.
func validateEndpoint(raw, trustedDomain string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUntrustedEndpoint, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrUntrustedEndpoint, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host != trustedDomain && !strings.HasSuffix(host, "."+trustedDomain) {
		return fmt.Errorf("%w: host %q", ErrUntrustedEndpoint, host)
	}
	if !versionedAPIPath.MatchString(u.Path) {
		return fmt.Errorf("%w: path %q", ErrUntrustedEndpoint, u.Path)
	}
	return nil
}

func endpointKey(baseSecret string, serverType ServerType) []byte {
	sum := sha256.Sum256([]byte(baseSecret + string(serverType)))
	return sum[:]
}

func decryptEndpoint(baseSecret string, serverType ServerType, ciphertext string) (string, error) {
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextInvalid, err)
	}
	aead, err := chacha20poly1305.New(endpointKey(baseSecret, serverType))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextInvalid, err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: %d bytes", ErrCiphertextInvalid, len(raw))
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextInvalid, err)
	}
	return string(plain), nil
}

// EncryptEndpoint produces a ciphertext in the Registry's format. baseSecret
// empty means the compiled-in endpoint secret.
func EncryptEndpoint(baseSecret string, serverType ServerType, endpoint string) (string, error) {
	if baseSecret == "" {
		baseSecret = endpointSecret()
	}
	aead, err := chacha20poly1305.New(endpointKey(baseSecret, serverType))
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(endpoint)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(aead.Seal(nonce, nonce, []byte(endpoint), nil)), nil
}
