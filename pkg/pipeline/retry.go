package pipeline

import (
	"context"
	stderrors "errors"
	"io/fs"
	"time"

	"github.com/matzehuels/kmsgrab/pkg/errors"
)

// DefaultRetryDelay is the initial delay between capture attempts.
const DefaultRetryDelay = 20 * time.Millisecond

// Retry executes fn up to attempts times with exponential backoff.
// It only retries errors for which retryable returns true; other errors are
// returned immediately. The delay doubles after each failed attempt.
// Returns the last error if all attempts fail, or ctx.Err() if cancelled.
func Retry(ctx context.Context, attempts int, delay time.Duration, retryable func(error) bool, fn func() error) error {
	attempts = max(attempts, 1)
	var lastErr error

	for i := 0; i < attempts; i++ {
		if err := fn(); err == nil {
			return nil
		} else if lastErr = err; !retryable(err) {
			return err
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return lastErr
}

// Transient reports whether a capture failure can clear up on its own.
//
// A page flip between reading the CRTC and querying its framebuffer leaves a
// stale id, which the kernel rejects with ENOENT. A CRTC that scans out
// nothing during a mode set is also transient.
func Transient(err error) bool {
	switch errors.GetCode(err) {
	case errors.ErrCodeNoBufferBound:
		return true
	case errors.ErrCodeBufferQueryFailed, errors.ErrCodeHandleExportFailed:
		return stderrors.Is(err, fs.ErrNotExist)
	}
	return false
}
