package crawl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChromeRenderer_Defaults(t *testing.T) {
	t.Parallel()
	_, err := NewChromeRenderer(ChromeConfig{MaxParallel: -1})
	require.Error(t, err)

	r, err := NewChromeRenderer(ChromeConfig{MaxParallel: 2})
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 2, cap(r.limiter))
	assert.Equal(t, 45*time.Second, r.cfg.NavigationTimeout)
	assert.Equal(t, 500*time.Millisecond, r.cfg.Settle)
}

func TestChromeRenderer_AcquireHonorsContext(t *testing.T) {
	t.Parallel()
	r, err := NewChromeRenderer(ChromeConfig{MaxParallel: 1})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.acquire(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, r.acquire(ctx))
	r.release()
	require.NoError(t, r.acquire(context.Background()))
	r.release()
}
