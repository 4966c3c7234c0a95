package cnwcommercial

import (
	"encoding/json"
	"time"
)

// ServerType names a class of commercial backend.
type ServerType string

const (
	ServerLicense   ServerType = "license"
	ServerPlugin    ServerType = "plugin"
	ServerUpdate    ServerType = "update"
	ServerSaaS      ServerType = "saas"
	ServerAnalytics ServerType = "analytics"
)

// Valid reports whether s is one of the known server types.
func (s ServerType) Valid() bool {
	switch s {
	case ServerLicense, ServerPlugin, ServerUpdate, ServerSaaS, ServerAnalytics:
		return true
	}
	return false
}

// ClientType is the edition a caller reports itself as.
type ClientType string

const (
	ClientOpenSource ClientType = "opensource"
	ClientCommercial ClientType = "commercial"
)

// Valid reports whether c is exactly "opensource" or "commercial".
func (c ClientType) Valid() bool {
	return c == ClientOpenSource || c == ClientCommercial
}

// Verification is attached to the request context once the Verifier has
// accepted a request. Handlers read it with VerificationFromContext.
type Verification struct {
	Type        ClientType `json:"type"`
	Fingerprint string     `json:"fingerprint"`
	Timestamp   int64      `json:"timestamp"`
	ServerType  string     `json:"serverType"`
	Verified    bool       `json:"verified"`
}

// Envelope is the JSON shape of every commercial API response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Result is returned by mutating facade operations. Failures never surface
// as Go errors; Success is false and Error carries a short message.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Plugin is a plugin listing from the commercial plugin store.
type Plugin struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version"`
	Author      string    `json:"author,omitempty"`
	Category    string    `json:"category,omitempty"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency,omitempty"`
	Rating      float64   `json:"rating,omitempty"`
	Downloads   int64     `json:"downloads,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

// PluginQuery filters a plugin store browse request.
type PluginQuery struct {
	Category string
	Search   string
	Page     int
	Limit    int
}

// PurchaseRequest is the body sent to the plugin store purchase endpoint.
type PurchaseRequest struct {
	PluginID     string `json:"pluginId"`
	UserEmail    string `json:"userEmail"`
	PaymentToken string `json:"paymentToken"`
	LicenseType  string `json:"licenseType,omitempty"`
}

// PurchaseResult is the outcome of a plugin purchase.
type PurchaseResult struct {
	Result
	LicenseKey string `json:"licenseKey,omitempty"`
	OrderID    string `json:"orderId,omitempty"`
}

// Plan is a SaaS subscription plan.
type Plan struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Price    float64                `json:"price"`
	Currency string                 `json:"currency,omitempty"`
	Interval string                 `json:"interval,omitempty"`
	Features map[string]interface{} `json:"features,omitempty"`
}

// SubscribeRequest is the body sent to the SaaS subscribe endpoint.
type SubscribeRequest struct {
	PlanID       string `json:"planId"`
	UserEmail    string `json:"userEmail"`
	TenantID     string `json:"tenantId,omitempty"`
	PaymentToken string `json:"paymentToken"`
}

// SubscribeResult is the outcome of a SaaS subscription.
type SubscribeResult struct {
	Result
	SubscriptionID string `json:"subscriptionId,omitempty"`
}

// Subscription is an active or past SaaS subscription.
type Subscription struct {
	ID               string     `json:"id"`
	PlanID           string     `json:"planId"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelledAt      *time.Time `json:"cancelledAt,omitempty"`
}

// ValidateRequest is the request body for the license validate endpoint.
type ValidateRequest struct {
	LicenseKey  string `json:"license_key"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Version     string `json:"version,omitempty"`
}

// ValidateResponse is the response from the license validate endpoint.
// The server returns this directly (not wrapped in {data: ...}).
type ValidateResponse struct {
	Valid               bool                   `json:"valid"`
	Reason              string                 `json:"reason,omitempty"`
	Plan                string                 `json:"plan,omitempty"`
	ExpiresAt           *time.Time             `json:"expires_at,omitempty"`
	Features            map[string]interface{} `json:"features,omitempty"`
	ActivationRemaining int                    `json:"activation_remaining"`
}

// ActivateRequest is the request body for the license activate endpoint.
type ActivateRequest struct {
	LicenseKey  string `json:"license_key"`
	Fingerprint string `json:"fingerprint"`
	Hostname    string `json:"hostname"`
	IP          string `json:"ip,omitempty"`
	OS          string `json:"os,omitempty"`
}

// ActivateResult wraps the activation record returned by the server.
type ActivateResult struct {
	Result
	ActivationID string     `json:"activationId,omitempty"`
	ActivatedAt  *time.Time `json:"activatedAt,omitempty"`
}

// UpdateInfo describes the newest release known to the update server.
type UpdateInfo struct {
	CurrentVersion string    `json:"currentVersion"`
	LatestVersion  string    `json:"latestVersion"`
	Available      bool      `json:"available"`
	Critical       bool      `json:"critical,omitempty"`
	DownloadURL    string    `json:"downloadUrl,omitempty"`
	ReleaseNotes   string    `json:"releaseNotes,omitempty"`
	ReleasedAt     time.Time `json:"releasedAt,omitempty"`
}

// OfflineLicenseFile represents the JSON structure of a signed offline license file.
// The License field is kept as json.RawMessage to preserve the exact bytes for
// signature verification.
type OfflineLicenseFile struct {
	License   json.RawMessage `json:"license"`
	Signature string          `json:"signature"`
	PublicKey string          `json:"public_key"`
}

// OfflineLicenseData contains the license information embedded in an offline license file.
type OfflineLicenseData struct {
	LicenseKey string                 `json:"license_key"`
	CompanyID  string                 `json:"company_id"`
	Edition    ClientType             `json:"edition,omitempty"`
	Plan       string                 `json:"plan"`
	Features   map[string]interface{} `json:"features"`
	ExpiresAt  time.Time              `json:"expires_at"`
	IssuedAt   time.Time              `json:"issued_at"`
}
