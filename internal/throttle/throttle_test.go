package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstCallImmediate(t *testing.T) {
	th := New(time.Hour)
	start := time.Now()
	require.NoError(t, th.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSpacesConsecutiveCalls(t *testing.T) {
	th := New(80 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, th.Wait(ctx))
	require.NoError(t, th.Wait(ctx))
	require.NoError(t, th.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestWaitHonorsCancellation(t *testing.T) {
	th := New(time.Hour)
	require.NoError(t, th.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, th.Wait(ctx))
}

func TestDisabledAndNil(t *testing.T) {
	th := New(0)
	for i := 0; i < 5; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}

	var nilThrottle *Throttle
	assert.NoError(t, nilThrottle.Wait(context.Background()))
	assert.Equal(t, time.Duration(0), nilThrottle.Interval())
}
