package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/CloudNativeWorks/cnw-commercial-sdk/cnwcommercial"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

func ok(w http.ResponseWriter, data interface{}) {
	cnwcommercial.WriteJSON(w, http.StatusOK, cnwcommercial.Envelope{Success: true, Data: data})
}

// decode reads a JSON body of at most maxBodyBytes. It writes the 400
// response itself and returns false on failure.
func decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dest); err != nil {
		cnwcommercial.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cnwcommercial.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"edition": string(s.edition),
		"version": s.version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ver, _ := cnwcommercial.VerificationFromContext(r.Context())
	ok(w, map[string]interface{}{
		"edition": s.edition,
		"version": s.version,
		"client":  ver,
	})
}

func (s *Server) handleBrowsePlugins(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	ok(w, s.services.Plugins.Browse(r.Context(), cnwcommercial.PluginQuery{
		Category: q.Get("category"),
		Search:   q.Get("search"),
		Page:     page,
		Limit:    limit,
	}))
}

func (s *Server) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	p := s.services.Plugins.GetPlugin(r.Context(), chi.URLParam(r, "id"))
	if p == nil {
		cnwcommercial.WriteError(w, http.StatusNotFound, "Plugin not found")
		return
	}
	ok(w, p)
}

func (s *Server) handlePurchasePlugin(w http.ResponseWriter, r *http.Request) {
	var req cnwcommercial.PurchaseRequest
	if !decode(w, r, &req) {
		return
	}
	req.PluginID = chi.URLParam(r, "id")
	if req.UserEmail == "" || req.PaymentToken == "" {
		cnwcommercial.WriteError(w, http.StatusBadRequest, "userEmail and paymentToken are required")
		return
	}
	res := s.services.Plugins.Purchase(r.Context(), req)
	if !res.Success {
		cnwcommercial.WriteError(w, http.StatusBadRequest, res.Error)
		return
	}
	ok(w, res)
}

func (s *Server) handleDownloadPlugin(w http.ResponseWriter, r *http.Request) {
	licenseKey := r.URL.Query().Get("licenseKey")
	if licenseKey == "" {
		cnwcommercial.WriteError(w, http.StatusBadRequest, "licenseKey is required")
		return
	}
	data := s.services.Plugins.Download(r.Context(), chi.URLParam(r, "id"), licenseKey)
	if data == nil {
		cnwcommercial.WriteError(w, http.StatusNotFound, "Plugin download unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("write plugin download", zap.Error(err))
	}
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	ok(w, s.services.SaaS.ListPlans(r.Context()))
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req cnwcommercial.SubscribeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PlanID == "" || req.UserEmail == "" {
		cnwcommercial.WriteError(w, http.StatusBadRequest, "planId and userEmail are required")
		return
	}
	res := s.services.SaaS.Subscribe(r.Context(), req)
	if !res.Success {
		cnwcommercial.WriteError(w, http.StatusBadRequest, res.Error)
		return
	}
	ok(w, res)
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub := s.services.SaaS.GetSubscription(r.Context(), chi.URLParam(r, "id"))
	if sub == nil {
		cnwcommercial.WriteError(w, http.StatusNotFound, "Subscription not found")
		return
	}
	ok(w, sub)
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	res := s.services.SaaS.Cancel(r.Context(), chi.URLParam(r, "id"))
	if !res.Success {
		cnwcommercial.WriteError(w, http.StatusBadRequest, res.Error)
		return
	}
	ok(w, res)
}

func (s *Server) handleValidateLicense(w http.ResponseWriter, r *http.Request) {
	var req cnwcommercial.ValidateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.LicenseKey == "" {
		cnwcommercial.WriteError(w, http.StatusBadRequest, "license_key is required")
		return
	}
	details := s.services.License.Details(r.Context(), req.LicenseKey)
	if details == nil {
		ok(w, cnwcommercial.ValidateResponse{Valid: false, Reason: "license server unavailable"})
		return
	}
	ok(w, details)
}

func (s *Server) handleActivateLicense(w http.ResponseWriter, r *http.Request) {
	var req cnwcommercial.ActivateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.LicenseKey == "" {
		cnwcommercial.WriteError(w, http.StatusBadRequest, "license_key is required")
		return
	}
	// Activation is per calling installation, not per gateway host.
	if ver, found := cnwcommercial.VerificationFromContext(r.Context()); found && req.Fingerprint == "" {
		req.Fingerprint = ver.Fingerprint
	}
	res := s.services.License.Activate(r.Context(), req)
	if !res.Success {
		cnwcommercial.WriteError(w, http.StatusBadRequest, res.Error)
		return
	}
	ok(w, res)
}

func (s *Server) handleOfflineLicense(w http.ResponseWriter, r *http.Request) {
	if s.offline == nil {
		cnwcommercial.WriteError(w, http.StatusNotImplemented, "Offline validation is not configured")
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		cnwcommercial.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	data, err := s.offline.Verify(raw)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, cnwcommercial.ErrLicenseExpired) || errors.Is(err, cnwcommercial.ErrEditionMismatch) {
			status = http.StatusForbidden
		}
		s.logger.Info("offline license rejected", zap.Error(err))
		cnwcommercial.WriteError(w, status, offlineMessage(err))
		return
	}
	ok(w, data)
}

// offlineMessage maps verification errors to their sentinel text so no
// decoding detail reaches the caller.
func offlineMessage(err error) string {
	for _, sentinel := range []error{
		cnwcommercial.ErrLicenseExpired,
		cnwcommercial.ErrEditionMismatch,
		cnwcommercial.ErrSignatureInvalid,
		cnwcommercial.ErrPublicKeyInvalid,
		cnwcommercial.ErrLicenseFileInvalid,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "invalid license"
}

func (s *Server) handleCheckUpdates(w http.ResponseWriter, r *http.Request) {
	info := s.services.Updates.CheckForUpdates(r.Context())
	if info == nil {
		cnwcommercial.WriteError(w, http.StatusBadGateway, "Update check unavailable")
		return
	}
	ok(w, info)
}
