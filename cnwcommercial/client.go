package cnwcommercial

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20  // 1 MB
	maxDownloadBytes = 64 << 20 // 64 MB
)

// Client sends signed requests to one commercial backend. The base URL is
// resolved once, at construction.
type Client struct {
	serverType  ServerType
	baseURL     string
	edition     ClientType
	version     string
	httpClient  *http.Client
	timeout     time.Duration // applied after all options
	userAgent   string
	fingerprint string
	secret      string
	now         func() time.Time
	limiter     *rate.Limiter
	logger      *zap.Logger
	metrics     *Metrics
	signer      *Signer
}

// NewClient creates a Client for serverType using reg to resolve its endpoint.
func NewClient(reg *Registry, serverType ServerType, opts ...ClientOption) *Client {
	c := &Client{
		serverType: serverType,
		edition:    reg.Edition(),
		version:    reg.Version(),
		timeout:    defaultTimeout,
		secret:     DeriveSharedSecret(),
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = reg.Resolve(serverType)
	}
	if c.userAgent == "" {
		c.userAgent = UserAgent(c.edition, c.version)
	}
	if c.fingerprint == "" {
		c.fingerprint = installationFingerprint(c.logger)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	c.httpClient.Timeout = c.timeout
	c.signer = NewSigner(c.edition, c.fingerprint,
		WithSignerSecret(c.secret),
		WithSignerClock(c.now),
	)
	return c
}

// BaseURL returns the resolved endpoint, including the client and v parameters.
func (c *Client) BaseURL() string { return c.baseURL }

// Fingerprint returns the installation fingerprint the client reports.
func (c *Client) Fingerprint() string { return c.fingerprint }

// Edition returns the edition the client signs as.
func (c *Client) Edition() ClientType { return c.edition }

// Version returns the application version the client reports.
func (c *Client) Version() string { return c.version }

// installationFingerprint returns GenerateFingerprint() or, if the host
// cannot be inspected, a fingerprint derived from the platform alone.
func installationFingerprint(logger *zap.Logger) string {
	fp, err := GenerateFingerprint()
	if err == nil {
		return fp
	}
	logger.Warn("generate installation fingerprint", zap.Error(err))
	sum := sha256.Sum256([]byte(runtime.GOOS + "|" + runtime.GOARCH + "|" + os.Getenv("USER")))
	return hex.EncodeToString(sum[:FingerprintLength/2])
}

// endpoint joins suffix to the base URL path and merges query into the
// base URL's own query.
func (c *Client) endpoint(suffix string, query url.Values) (*url.URL, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if suffix != "" {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(suffix, "/")
		u.RawPath = ""
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// do sends a signed request and returns the body of a 2xx response, read up
// to limit bytes. On non-2xx responses it returns a mapped server error.
func (c *Client) do(ctx context.Context, method, suffix string, query url.Values, body interface{}, limit int64) ([]byte, error) {
	respBody, err := c.send(ctx, method, suffix, query, body, limit)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.metrics.outbound(c.serverType, outcome)
	return respBody, err
}

func (c *Client) send(ctx context.Context, method, suffix string, query url.Values, body interface{}, limit int64) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	u, err := c.endpoint(suffix, query)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	c.signer.SignRequest(req, c.serverType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, parseError(resp.StatusCode, respBody)
	}
	if int64(len(respBody)) > limit {
		return nil, fmt.Errorf("response exceeds %d bytes", limit)
	}
	return respBody, nil
}

// doJSON performs a request and decodes the response into dest. Responses
// wrapped as {"success": ..., "data": ...} are unwrapped first; bare
// objects and arrays decode as is.
func (c *Client) doJSON(ctx context.Context, method, suffix string, query url.Values, body, dest interface{}) error {
	respBody, err := c.do(ctx, method, suffix, query, body, maxResponseBytes)
	if err != nil {
		return err
	}
	return decodeData(respBody, dest)
}

// download fetches raw content.
func (c *Client) download(ctx context.Context, suffix string, query url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, suffix, query, nil, maxDownloadBytes)
}

func decodeData(body []byte, dest interface{}) error {
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		if dest == nil {
			return nil
		}
		if err := json.Unmarshal(trimmed, dest); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	var env struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Success != nil && !*env.Success {
		return parseError(http.StatusOK, body)
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		body = env.Data
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseError parses either error format commercial backends use:
// {"error": {"code": "...", "message": "..."}} or {"success": false, "error": "..."}.
func parseError(statusCode int, body []byte) error {
	var errResp struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || len(errResp.Error) == 0 {
		return &ServerError{
			StatusCode: statusCode,
			Code:       "UNKNOWN",
			Message:    string(body),
		}
	}

	var structured struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(errResp.Error, &structured); err == nil {
		return &ServerError{
			StatusCode: statusCode,
			Code:       structured.Code,
			Message:    structured.Message,
		}
	}

	var message string
	_ = json.Unmarshal(errResp.Error, &message)
	return &ServerError{
		StatusCode: statusCode,
		Code:       codeForStatus(statusCode),
		Message:    message,
	}
}

// codeForStatus derives an error code for backends that send only a message.
func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusPaymentRequired:
		return "PAYMENT_REQUIRED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return "ERROR"
	}
}

// failureMessage turns an outbound error into the short message facades
// return in a Result.
func failureMessage(err error) string {
	var se *ServerError
	if errors.As(err, &se) {
		if se.Message != "" && se.Code != "UNKNOWN" {
			return se.Message
		}
		return fmt.Sprintf("commercial service returned %d", se.StatusCode)
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return "commercial service timed out"
	}
	return "commercial service unavailable"
}
