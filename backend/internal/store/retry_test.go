package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryRerunsOnConflict(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("commit: %w", ErrConflict)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), 5, func(ctx context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 2, func(ctx context.Context) error {
		calls++
		return ErrConflict
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 2, calls)
}

func TestRetryHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 3, func(ctx context.Context) error {
		t.Fatal("attempt must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTickerPattern(t *testing.T) {
	assert.True(t, TickerPattern.MatchString("RUB"))
	assert.True(t, TickerPattern.MatchString("ABCDEFGHIJ"))
	assert.False(t, TickerPattern.MatchString("A"))
	assert.False(t, TickerPattern.MatchString("abc"))
	assert.False(t, TickerPattern.MatchString("ABCDEFGHIJK"))
	assert.False(t, TickerPattern.MatchString("AB1"))
}
