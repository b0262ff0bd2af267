package storage

import (
	"errors"

	"github.com/coscene-io/zenoh-recorder-go/internal/errs"
)

// IsTransient reports whether err should be retried by WriteWithRetry.
func IsTransient(err error) bool {
	return errors.Is(err, errs.ErrTransientStorage)
}
