package cnwcommercial

import (
	"context"
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// LicenseService is the facade for online license validation and activation.
type LicenseService struct {
	client *Client
}

// NewLicenseService resolves the license endpoint from reg and returns a facade for it.
func NewLicenseService(reg *Registry, opts ...ClientOption) *LicenseService {
	return &LicenseService{client: NewClient(reg, ServerLicense, opts...)}
}

// Validate reports whether licenseKey is currently valid for this
// installation. Any failure counts as invalid.
func (s *LicenseService) Validate(ctx context.Context, licenseKey string) bool {
	resp := s.Details(ctx, licenseKey)
	return resp != nil && resp.Valid
}

// Details returns the full validation response, or nil on failure.
// The server returns the response directly (not wrapped in {data: ...}).
func (s *LicenseService) Details(ctx context.Context, licenseKey string) *ValidateResponse {
	req := ValidateRequest{
		LicenseKey:  licenseKey,
		Fingerprint: s.client.fingerprint,
		Version:     s.client.version,
	}
	var resp ValidateResponse
	if err := s.client.doJSON(ctx, http.MethodPost, "validate", nil, req, &resp); err != nil {
		s.client.logger.Error("license validate failed", zap.Error(err))
		return nil
	}
	return &resp
}

// Activate registers this machine against a license key. Fingerprint,
// Hostname and OS default to the local installation when empty.
func (s *LicenseService) Activate(ctx context.Context, req ActivateRequest) ActivateResult {
	if req.Fingerprint == "" {
		req.Fingerprint = s.client.fingerprint
	}
	if req.Hostname == "" {
		req.Hostname, _ = os.Hostname()
	}
	if req.OS == "" {
		req.OS = runtime.GOOS
	}

	var res ActivateResult
	if err := s.client.doJSON(ctx, http.MethodPost, "activate", nil, req, &res); err != nil {
		s.client.logger.Error("license activate failed", zap.Error(err))
		return ActivateResult{Result: Result{Success: false, Error: failureMessage(err)}}
	}
	res.Success = true
	return res
}
