// Package reductstore implements storage.Client against a ReductStore-like
// HTTP API: bucket creation, label-tagged single-record writes, and a
// never-erroring health check.
package reductstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coscene-io/zenoh-recorder-go/internal/errs"
)

// Config configures the backend.
type Config struct {
	URL            string
	BucketName     string
	APIToken       string
	TimeoutSeconds int
}

// Backend is a storage.Client backed by a ReductStore-compatible HTTP API.
type Backend struct {
	client     *http.Client
	baseURL    string
	bucketName string
	apiToken   string
}

// New builds a Backend with a pooled, keep-alive HTTP client.
func New(cfg Config) *Backend {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Backend{
		client:     &http.Client{Transport: transport, Timeout: timeout},
		baseURL:    cfg.URL,
		bucketName: cfg.BucketName,
		apiToken:   cfg.APIToken,
	}
}

// BackendType implements storage.Client.
func (b *Backend) BackendType() string {
	return "reductstore"
}

// Initialize ensures the configured bucket exists, treating a 409 conflict
// as success.
func (b *Backend) Initialize(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/v1/b/%s", b.baseURL, b.bucketName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("%w: building bucket create request: %v", errs.ErrFatalSetup, err)
	}
	b.applyAuth(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: contacting storage backend: %v", errs.ErrFatalSetup, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("%w: bucket create failed with status %d: %s", errs.ErrFatalSetup, resp.StatusCode, body)
}

// WriteRecord writes a single record at timestampUs into entry.
func (b *Backend) WriteRecord(ctx context.Context, entry string, timestampUs int64, data []byte, labels map[string]string) error {
	url := fmt.Sprintf("%s/api/v1/b/%s/%s?ts=%d", b.baseURL, b.bucketName, entry, timestampUs)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: building write request: %v", errs.ErrPermanentStorage, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	for k, v := range labels {
		req.Header.Set("x-reduct-label-"+k, v)
	}
	b.applyAuth(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransientStorage, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d: %s", errs.ErrTransientStorage, resp.StatusCode, body)
	}
	return fmt.Errorf("%w: status %d: %s", errs.ErrPermanentStorage, resp.StatusCode, body)
}

// HealthCheck probes /api/v1/info; it never returns an error.
func (b *Backend) HealthCheck(ctx context.Context) bool {
	url := fmt.Sprintf("%s/api/v1/info", b.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	b.applyAuth(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (b *Backend) applyAuth(req *http.Request) {
	if b.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiToken)
	}
}
