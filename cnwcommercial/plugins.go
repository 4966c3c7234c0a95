package cnwcommercial

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

// PluginStore is the facade for the commercial plugin store.
type PluginStore struct {
	client *Client
}

// NewPluginStore resolves the plugin endpoint from reg and returns a facade for it.
func NewPluginStore(reg *Registry, opts ...ClientOption) *PluginStore {
	return &PluginStore{client: NewClient(reg, ServerPlugin, opts...)}
}

// Browse lists plugins matching q. It returns an empty slice on any failure.
func (s *PluginStore) Browse(ctx context.Context, q PluginQuery) []Plugin {
	query := url.Values{}
	if q.Category != "" {
		query.Set("category", q.Category)
	}
	if q.Search != "" {
		query.Set("search", q.Search)
	}
	if q.Page > 0 {
		query.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}

	var plugins []Plugin
	if err := s.client.doJSON(ctx, http.MethodGet, "browse", query, nil, &plugins); err != nil {
		s.client.logger.Error("plugin store browse failed", zap.Error(err))
		return []Plugin{}
	}
	if plugins == nil {
		return []Plugin{}
	}
	return plugins
}

// GetPlugin returns one plugin, or nil if it cannot be fetched.
func (s *PluginStore) GetPlugin(ctx context.Context, id string) *Plugin {
	var p Plugin
	if err := s.client.doJSON(ctx, http.MethodGet, "plugins/"+url.PathEscape(id), nil, nil, &p); err != nil {
		s.client.logger.Error("plugin store lookup failed", zap.String("plugin_id", id), zap.Error(err))
		return nil
	}
	return &p
}

// Purchase buys a plugin license. Failures are reported in the result.
func (s *PluginStore) Purchase(ctx context.Context, req PurchaseRequest) PurchaseResult {
	var res PurchaseResult
	if err := s.client.doJSON(ctx, http.MethodPost, "purchase", nil, req, &res); err != nil {
		s.client.logger.Error("plugin purchase failed", zap.String("plugin_id", req.PluginID), zap.Error(err))
		return PurchaseResult{Result: Result{Success: false, Error: failureMessage(err)}}
	}
	res.Success = true
	return res
}

// Download fetches a plugin package. It returns nil on any failure,
// including an unknown plugin or a license the store does not accept.
func (s *PluginStore) Download(ctx context.Context, pluginID, licenseKey string) []byte {
	query := url.Values{}
	query.Set("pluginId", pluginID)
	query.Set("licenseKey", licenseKey)

	data, err := s.client.download(ctx, "download", query)
	if err != nil {
		s.client.logger.Error("plugin download failed", zap.String("plugin_id", pluginID), zap.Error(err))
		return nil
	}
	return data
}
