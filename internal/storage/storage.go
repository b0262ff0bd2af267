// Package storage defines the write-only storage backend contract shared by
// the reductstore, filesystem, and GCS backends, plus the retry-with-backoff
// policy and topic-to-entry-name mapping common to all of them.
package storage

import (
	"context"
	"strings"
	"time"

	"github.com/coscene-io/zenoh-recorder-go/internal/logging"
	"go.uber.org/zap"
)

// Client is the write-only contract every storage backend implements.
type Client interface {
	// Initialize ensures the target container exists. Idempotent: an
	// already-exists condition is success.
	Initialize(ctx context.Context) error

	// WriteRecord writes a single record at timestampUs into entry,
	// annotated with labels. Returns an error wrapping errs.ErrTransientStorage
	// or errs.ErrPermanentStorage as appropriate.
	WriteRecord(ctx context.Context, entry string, timestampUs int64, data []byte, labels map[string]string) error

	// HealthCheck is a best-effort liveness probe. It never returns an
	// error; failures are reported as false.
	HealthCheck(ctx context.Context) bool

	// BackendType names the backend for labeling and status responses.
	BackendType() string
}

// RetryConfig parameterizes WriteWithRetry's backoff.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig matches spec: 100ms initial delay, doubling, capped at 30s.
func DefaultRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
	}
}

// WriteWithRetry retries c.WriteRecord on transient failures with
// exponential backoff, giving up after cfg.MaxRetries retries (at most
// cfg.MaxRetries+1 attempts in all).
func WriteWithRetry(ctx context.Context, c Client, log *logging.Logger, entry string, timestampUs int64, data []byte, labels map[string]string, cfg RetryConfig) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := c.WriteRecord(ctx, entry, timestampUs, data, labels)
		if err == nil {
			if attempt > 0 {
				log.Info("write succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		log.Warn("transient storage write failed, retrying", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	log.Error("storage write exhausted retries", zap.Error(lastErr))
	return lastErr
}

// TopicToEntry maps a topic pattern to a deterministic backend entry name:
// strip the leading separator, replace separators with underscores, and
// replace the multi-level wildcard token with the literal "all".
func TopicToEntry(topic string) string {
	trimmed := strings.TrimPrefix(topic, "/")
	replaced := strings.ReplaceAll(trimmed, "/", "_")
	return strings.ReplaceAll(replaced, "**", "all")
}
