package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstTime(t *testing.T) {
	called := 0
	err := Do(context.Background(), Config{MaxRetries: 3, InitialBackoff: time.Millisecond}, func() error {
		called++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestDo_SucceedsAfterBusy(t *testing.T) {
	busy := errors.New("database is locked")
	called := 0
	err := Do(context.Background(), Config{MaxRetries: 5, InitialBackoff: time.Millisecond}, func() error {
		called++
		if called < 3 {
			return busy
		}
		return nil
	}, func(err error) bool { return errors.Is(err, busy) })

	require.NoError(t, err)
	assert.Equal(t, 3, called)
}

func TestDo_Exhausted(t *testing.T) {
	persistent := errors.New("persistent")
	called := 0
	err := Do(context.Background(), Config{MaxRetries: 3, InitialBackoff: time.Millisecond}, func() error {
		called++
		return persistent
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 3, called)
	assert.ErrorIs(t, err, persistent)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestDo_NonRetryable(t *testing.T) {
	fatal := errors.New("constraint failed")
	called := 0
	err := Do(context.Background(), Config{MaxRetries: 5, InitialBackoff: time.Millisecond}, func() error {
		called++
		return fatal
	}, func(error) bool { return false })

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, called)
}

func TestDo_ZeroRetriesStillRunsOnce(t *testing.T) {
	called := 0
	err := Do(context.Background(), Config{}, func() error {
		called++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	called := 0
	err := Do(ctx, Config{MaxRetries: 5, InitialBackoff: time.Hour}, func() error {
		called++
		cancel()
		return errors.New("busy")
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, called)
}

func TestBackoff(t *testing.T) {
	cfg := Config{MaxRetries: 4, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 30 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, backoff(cfg, 1))
	assert.Equal(t, 20*time.Millisecond, backoff(cfg, 2))
	assert.Equal(t, 30*time.Millisecond, backoff(cfg, 3))

	cfg.Jitter = 0.5
	assert.Equal(t, 25*time.Millisecond, backoff(cfg, 2))
}
