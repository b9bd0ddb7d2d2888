package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/vuxmai/sweeper/internal/core/domain"
)

// Config holds driver-service connection configuration.
type Config struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// HTTPDriver implements Driver against the browser driver service's REST
// API. The service owns the actual browser; this client only sequences
// requests and surfaces its errors verbatim so the classifier can read
// the failure phrases the service emits.
type HTTPDriver struct {
	endpoint   string
	httpClient *http.Client

	mu        sync.Mutex
	sessionID string
}

// NewHTTPDriver creates a driver client for the service at cfg.Endpoint.
func NewHTTPDriver(cfg Config) *HTTPDriver {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &HTTPDriver{
		endpoint: cfg.Endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Login establishes (or resumes) an authenticated session.
func (d *HTTPDriver) Login(ctx context.Context, identity, credentialsRef string, resume bool) error {
	var out struct {
		SessionID string `json:"session_id"`
	}
	err := d.post(ctx, "/v1/session/login", map[string]any{
		"identity":        identity,
		"credentials_ref": credentialsRef,
		"resume":          resume,
	}, &out)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.sessionID = out.SessionID
	d.mu.Unlock()
	return nil
}

// ListItems enumerates the item identifiers of partition p.
func (d *HTTPDriver) ListItems(ctx context.Context, p domain.Partition) ([]string, error) {
	var out struct {
		Items []string `json:"items"`
	}
	path := fmt.Sprintf("/v1/partitions/%s/items", url.PathEscape(string(p)))
	if err := d.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// PerformAction runs the capture interaction against one item.
func (d *HTTPDriver) PerformAction(ctx context.Context, itemID string, p domain.Partition) (*ActionResult, error) {
	var out ActionResult
	err := d.post(ctx, "/v1/actions", map[string]any{
		"item_id":   itemID,
		"partition": string(p),
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.PerformedAt.IsZero() {
		out.PerformedAt = time.Now()
	}
	return &out, nil
}

// CaptureAndStore takes an evidence snapshot for itemID.
func (d *HTTPDriver) CaptureAndStore(ctx context.Context, itemID string) (string, error) {
	var out struct {
		Ref string `json:"ref"`
	}
	err := d.post(ctx, "/v1/captures", map[string]any{
		"item_id": itemID,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Ref, nil
}

// Close tears the session down. A failed logout is not an error worth
// surfacing; the service reaps orphaned sessions on its own.
func (d *HTTPDriver) Close() error {
	d.mu.Lock()
	sid := d.sessionID
	d.sessionID = ""
	d.mu.Unlock()

	if sid != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = d.post(ctx, "/v1/session/logout", map[string]any{}, nil)
	}

	d.httpClient.CloseIdleConnections()
	return nil
}

func (d *HTTPDriver) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return d.do(req, out)
}

func (d *HTTPDriver) post(ctx context.Context, path string, body map[string]any, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return d.do(req, out)
}

func (d *HTTPDriver) do(req *http.Request, out any) error {
	d.mu.Lock()
	if d.sessionID != "" {
		req.Header.Set("X-Session-ID", d.sessionID)
	}
	d.mu.Unlock()

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("driver call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := resp.Header.Get("Retry-After")
		return fmt.Errorf("rate limit exceeded (retry after %s): %s", retryAfter, errorMessage(body))
	}

	if resp.StatusCode != http.StatusOK {
		// The service encodes failure causes as phrases in the error
		// message; pass them through untouched for classification.
		return fmt.Errorf("driver http %d: %s", resp.StatusCode, errorMessage(body))
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("parse response data: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}
