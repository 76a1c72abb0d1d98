// Package httpauth provides a [license.Authority] that talks JSON over HTTP.
//
// The authority exposes two endpoints below its base URL:
//
//	POST /v1/authorize  {"key": "...", "instance_id": "..."}
//	POST /v1/usage      {"key": "...", "instance_id": "...", "audio_ms": 1234, "at": "..."}
//
// A 2xx status grants the request. 401 and 403 reject the key, 402 and 410
// report it expired, and every other outcome (transport failures, 5xx,
// timeouts) is treated as the authority being unreachable so the engine's
// grace periods apply.
package httpauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/clearvox/pkg/license"
)

// Type is the registry name of this authority implementation.
const Type = "http"

var _ license.Authority = (*Authority)(nil)

// Authority implements [license.Authority] against an HTTP license server.
// It is safe for concurrent use.
type Authority struct {
	baseURL    string
	token      string
	instanceID string
	httpClient *http.Client
}

// config holds optional configuration collected from functional options.
type config struct {
	timeout    time.Duration
	token      string
	instanceID string
	client     *http.Client
}

// Option is a functional option for Authority.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout on the underlying client.
// A zero or negative value means no timeout beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithToken sends token as a Bearer credential on every request.
func WithToken(token string) Option {
	return func(c *config) { c.token = token }
}

// WithInstanceID labels authorization requests with the caller's identity.
// Usage reports carry their own instance ID.
func WithInstanceID(id string) Option {
	return func(c *config) { c.instanceID = id }
}

// WithHTTPClient replaces the default client, e.g. for custom transports.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.client = hc }
}

// New constructs an Authority for the server at baseURL. A trailing slash is
// stripped.
func New(baseURL string, opts ...Option) (*Authority, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("httpauth: base url must not be empty")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("httpauth: base url %q must use http or https", baseURL)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	hc := cfg.client
	if hc == nil {
		hc = &http.Client{}
	}
	if cfg.timeout > 0 {
		clone := *hc
		clone.Timeout = cfg.timeout
		hc = &clone
	}

	return &Authority{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      cfg.token,
		instanceID: cfg.instanceID,
		httpClient: hc,
	}, nil
}

type authorizeRequest struct {
	Key        string `json:"key"`
	InstanceID string `json:"instance_id,omitempty"`
}

type usageRequest struct {
	Key        string    `json:"key"`
	InstanceID string    `json:"instance_id"`
	AudioMS    int64     `json:"audio_ms"`
	At         time.Time `json:"at"`
}

// errorResponse is the optional JSON body of a non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// Authorize implements [license.Authority].
func (a *Authority) Authorize(ctx context.Context, k license.Key) error {
	err := a.post(ctx, "/v1/authorize", authorizeRequest{
		Key:        secretForm(k),
		InstanceID: a.instanceID,
	})
	if err != nil {
		return fmt.Errorf("httpauth: authorize: %w", err)
	}
	return nil
}

// ReportUsage implements [license.Authority].
func (a *Authority) ReportUsage(ctx context.Context, k license.Key, u license.Usage) error {
	err := a.post(ctx, "/v1/usage", usageRequest{
		Key:        secretForm(k),
		InstanceID: u.InstanceID,
		AudioMS:    u.Audio.Milliseconds(),
		At:         u.At.UTC(),
	})
	if err != nil {
		return fmt.Errorf("httpauth: report usage: %w", err)
	}
	return nil
}

func (a *Authority) post(ctx context.Context, path string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", license.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return statusError(resp)
}

// statusError maps a non-2xx response to a license sentinel.
func statusError(resp *http.Response) error {
	var sentinel error
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = license.ErrLicenseInvalid
	case http.StatusPaymentRequired, http.StatusGone:
		sentinel = license.ErrLicenseExpired
	default:
		sentinel = license.ErrUnreachable
	}

	var body errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%w: status %d: %s", sentinel, resp.StatusCode, body.Error)
	}
	return fmt.Errorf("%w: status %d", sentinel, resp.StatusCode)
}

// secretForm renders k in its full textual form. [license.Key.String] redacts
// the secret, so it cannot be used on the wire.
func secretForm(k license.Key) string {
	return fmt.Sprintf("%d.%s.%s", k.Version, k.Class, k.Secret)
}
