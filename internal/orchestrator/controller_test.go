package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_StartStop(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	c := NewController(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, nil)

	require.ErrorIs(t, c.Stop(), ErrNotRunning)
	require.NoError(t, c.Start(context.Background()))
	<-started
	assert.True(t, c.Running())
	require.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)

	require.NoError(t, c.Stop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	assert.False(t, c.Running())
	assert.ErrorIs(t, c.LastError(), context.Canceled)
}

func TestController_RestartAfterCompletion(t *testing.T) {
	t.Parallel()
	runs := 0
	c := NewController(func(context.Context) error {
		runs++
		if runs == 1 {
			return errors.New("seed unreachable")
		}
		return nil
	}, nil)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Wait(ctx))
	assert.EqualError(t, c.LastError(), "seed unreachable")

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Wait(ctx))
	assert.NoError(t, c.LastError())
	assert.Equal(t, 2, runs)
}
