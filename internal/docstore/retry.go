package docstore

import (
	"context"
	"time"
)

const (
	writeAttempts  = 3
	writeRetryBase = 50 * time.Millisecond
)

// RetryWrite runs fn up to three times, doubling a short delay between
// attempts. The last error is returned unchanged so callers can still
// match sentinels, and a cancelled context cuts the retries short.
func RetryWrite(ctx context.Context, fn func() error) error {
	var err error
	delay := writeRetryBase
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == writeAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
