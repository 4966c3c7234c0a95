// Package gateway serves the commercial API namespace. Every route under
// /api/commercial sits behind the request verifier and answers with the
// {success, data, error} envelope.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/CloudNativeWorks/cnw-commercial-sdk/cnwcommercial"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PluginStore is the subset of *cnwcommercial.PluginStore the gateway uses.
type PluginStore interface {
	Browse(ctx context.Context, q cnwcommercial.PluginQuery) []cnwcommercial.Plugin
	GetPlugin(ctx context.Context, id string) *cnwcommercial.Plugin
	Purchase(ctx context.Context, req cnwcommercial.PurchaseRequest) cnwcommercial.PurchaseResult
	Download(ctx context.Context, pluginID, licenseKey string) []byte
}

// SaaSService is the subset of *cnwcommercial.SaaSService the gateway uses.
type SaaSService interface {
	ListPlans(ctx context.Context) []cnwcommercial.Plan
	Subscribe(ctx context.Context, req cnwcommercial.SubscribeRequest) cnwcommercial.SubscribeResult
	GetSubscription(ctx context.Context, id string) *cnwcommercial.Subscription
	Cancel(ctx context.Context, id string) cnwcommercial.Result
}

// LicenseService is the subset of *cnwcommercial.LicenseService the gateway uses.
type LicenseService interface {
	Details(ctx context.Context, licenseKey string) *cnwcommercial.ValidateResponse
	Activate(ctx context.Context, req cnwcommercial.ActivateRequest) cnwcommercial.ActivateResult
}

// UpdateService is the subset of *cnwcommercial.UpdateService the gateway uses.
type UpdateService interface {
	CheckForUpdates(ctx context.Context) *cnwcommercial.UpdateInfo
}

// Services are the facades behind the commercial routes. They are built
// once at startup.
type Services struct {
	Plugins PluginStore
	SaaS    SaaSService
	License LicenseService
	Updates UpdateService
}

// FromCommercial adapts a cnwcommercial.Services bundle.
func FromCommercial(s *cnwcommercial.Services) Services {
	return Services{
		Plugins: s.Plugins,
		SaaS:    s.SaaS,
		License: s.License,
		Updates: s.Updates,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the access and error logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithGatherer sets the registry served at /metrics. Default is
// prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithOfflineValidator enables POST /api/commercial/license/offline.
func WithOfflineValidator(v *cnwcommercial.OfflineValidator) Option {
	return func(s *Server) {
		s.offline = v
	}
}

// WithBuildInfo sets the edition and version reported by /healthz and /status.
func WithBuildInfo(edition cnwcommercial.ClientType, version string) Option {
	return func(s *Server) {
		s.edition = edition
		s.version = version
	}
}

// Server routes HTTP requests to the commercial facades.
type Server struct {
	verify   func(http.Handler) http.Handler
	services Services
	offline  *cnwcommercial.OfflineValidator
	edition  cnwcommercial.ClientType
	version  string
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	router   chi.Router
}

// New builds the router. verify is applied to every /api/commercial route,
// normally (*cnwcommercial.Verifier).Middleware.
func New(verify func(http.Handler) http.Handler, services Services, opts ...Option) *Server {
	s := &Server{
		verify:   verify,
		services: services,
		edition:  cnwcommercial.EditionFromEnv(),
		version:  cnwcommercial.Version,
		logger:   zap.NewNop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/commercial", func(r chi.Router) {
		r.Use(s.verify)
		r.Get("/status", s.handleStatus)

		r.Get("/plugins", s.handleBrowsePlugins)
		r.Get("/plugins/{id}", s.handleGetPlugin)
		r.Post("/plugins/{id}/purchase", s.handlePurchasePlugin)
		r.Get("/plugins/{id}/download", s.handleDownloadPlugin)

		r.Get("/saas/plans", s.handleListPlans)
		r.Post("/saas/subscribe", s.handleSubscribe)
		r.Get("/saas/subscriptions/{id}", s.handleGetSubscription)
		r.Delete("/saas/subscriptions/{id}", s.handleCancelSubscription)

		r.Post("/license/validate", s.handleValidateLicense)
		r.Post("/license/activate", s.handleActivateLicense)
		r.Post("/license/offline", s.handleOfflineLicense)

		r.Get("/updates/check", s.handleCheckUpdates)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		cnwcommercial.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		cnwcommercial.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
