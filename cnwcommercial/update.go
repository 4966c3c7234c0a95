package cnwcommercial

import (
	"context"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-version"
	"go.uber.org/zap"
)

// UpdateService is the facade for the release update server.
type UpdateService struct {
	client *Client
}

// NewUpdateService resolves the update endpoint from reg and returns a facade for it.
func NewUpdateService(reg *Registry, opts ...ClientOption) *UpdateService {
	return &UpdateService{client: NewClient(reg, ServerUpdate, opts...)}
}

// CheckForUpdates asks the update server for the latest release and
// compares it with the running version. It returns nil on failure.
func (s *UpdateService) CheckForUpdates(ctx context.Context) *UpdateInfo {
	query := url.Values{}
	query.Set("current", s.client.version)
	query.Set("edition", string(s.client.edition))

	var info UpdateInfo
	if err := s.client.doJSON(ctx, http.MethodGet, "check", query, nil, &info); err != nil {
		s.client.logger.Error("update check failed", zap.Error(err))
		return nil
	}

	latest, err := version.NewVersion(info.LatestVersion)
	if err != nil {
		s.client.logger.Error("update check returned invalid version",
			zap.String("latest", info.LatestVersion), zap.Error(err))
		return nil
	}
	info.CurrentVersion = s.client.version

	// Development builds without a semantic version keep the server's verdict.
	if current, err := version.NewVersion(s.client.version); err == nil {
		info.Available = latest.GreaterThan(current)
	}
	return &info
}
