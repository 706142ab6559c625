package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWriteSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := RetryWrite(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWriteRecoversFromTransientFailure(t *testing.T) {
	calls := 0
	err := RetryWrite(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("backend hiccup")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWriteSurfacesLastError(t *testing.T) {
	sentinel := errors.New("backend down")
	calls := 0
	err := RetryWrite(context.Background(), func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, writeAttempts, calls)
}

func TestRetryWriteStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sentinel := errors.New("backend down")
	calls := 0
	err := RetryWrite(ctx, func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}
