package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/clockwatch/pkg/logger"
)

func TestValidate(t *testing.T) {
	t.Run("Should accept standard expressions and descriptors", func(t *testing.T) {
		assert.NoError(t, Validate("*/5 * * * *"))
		assert.NoError(t, Validate("0 */2 * * 1-5"))
		assert.NoError(t, Validate("@hourly"))
	})

	t.Run("Should reject empty and malformed expressions", func(t *testing.T) {
		assert.Error(t, Validate(""))
		assert.Error(t, Validate("every day"))
		assert.Error(t, Validate("0 0 0 * * *"))
	})
}

func TestRun(t *testing.T) {
	t.Run("Should run the job until the context ends", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(
			logger.ContextWithLogger(context.Background(), logger.NewLogger(logger.TestConfig())),
			5*time.Second,
		)
		defer cancel()

		var calls atomic.Int32
		ran := make(chan struct{}, 1)
		done := make(chan error, 1)
		go func() {
			done <- Run(ctx, "@every 1s", time.UTC, func(context.Context) error {
				calls.Add(1)
				select {
				case ran <- struct{}{}:
				default:
				}
				return errors.New("boom")
			})
		}()

		select {
		case <-ran:
		case <-ctx.Done():
			t.Fatal("job never ran")
		}
		cancel()
		require.NoError(t, <-done)
		assert.GreaterOrEqual(t, calls.Load(), int32(1))
	})

	t.Run("Should refuse an invalid expression", func(t *testing.T) {
		err := Run(context.Background(), "nope", time.UTC, func(context.Context) error { return nil })
		assert.Error(t, err)
	})
}
