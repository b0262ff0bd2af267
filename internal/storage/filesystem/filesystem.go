// Package filesystem implements storage.Client against a local directory
// tree: one file per record plus an optional JSON sidecar for labels.
package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coscene-io/zenoh-recorder-go/internal/errs"
)

// Config configures the backend.
type Config struct {
	BasePath   string
	FileFormat string
}

// Backend is a storage.Client writing records to local files.
type Backend struct {
	basePath   string
	fileFormat string
}

// New builds a Backend.
func New(cfg Config) *Backend {
	format := cfg.FileFormat
	if format == "" {
		format = "mcap"
	}
	return &Backend{basePath: cfg.BasePath, fileFormat: format}
}

// BackendType implements storage.Client.
func (b *Backend) BackendType() string {
	return "filesystem"
}

// Initialize creates the base directory if it does not already exist.
func (b *Backend) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(b.basePath, 0o755); err != nil {
		return fmt.Errorf("%w: creating base directory: %v", errs.ErrFatalSetup, err)
	}
	return nil
}

func (b *Backend) entryDir(entry string) string {
	return filepath.Join(b.basePath, entry)
}

func (b *Backend) recordPath(entry string, timestampUs int64) string {
	return filepath.Join(b.entryDir(entry), fmt.Sprintf("%d.%s", timestampUs, b.fileFormat))
}

func (b *Backend) metadataPath(entry string, timestampUs int64) string {
	return filepath.Join(b.entryDir(entry), fmt.Sprintf("%d.meta.json", timestampUs))
}

// WriteRecord writes data and, if labels is non-empty, a pretty-JSON
// metadata sidecar.
func (b *Backend) WriteRecord(ctx context.Context, entry string, timestampUs int64, data []byte, labels map[string]string) error {
	if err := os.MkdirAll(b.entryDir(entry), 0o755); err != nil {
		return fmt.Errorf("%w: creating entry directory: %v", errs.ErrPermanentStorage, err)
	}

	if err := os.WriteFile(b.recordPath(entry, timestampUs), data, 0o644); err != nil {
		return fmt.Errorf("%w: writing record file: %v", errs.ErrPermanentStorage, err)
	}

	if len(labels) > 0 {
		body, err := json.MarshalIndent(labels, "", "  ")
		if err != nil {
			return fmt.Errorf("%w: marshalling labels: %v", errs.ErrPermanentStorage, err)
		}
		if err := os.WriteFile(b.metadataPath(entry, timestampUs), body, 0o644); err != nil {
			return fmt.Errorf("%w: writing metadata file: %v", errs.ErrPermanentStorage, err)
		}
	}

	return nil
}

// HealthCheck writes and removes a probe file at the base path; it never
// returns an error.
func (b *Backend) HealthCheck(ctx context.Context) bool {
	info, err := os.Stat(b.basePath)
	if err != nil || !info.IsDir() {
		return false
	}

	probe := filepath.Join(b.basePath, ".health_check_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return false
	}
	_ = os.Remove(probe)
	return true
}
