package tradeoffer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventoryLoader_CoalescesConcurrentLoads(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	loader := newInventoryLoader(context.Background(), "partner", func(ctx context.Context, appID uint32, contextID uint64) ([]Item, error) {
		calls.Add(1)
		<-release
		return []Item{testItem(1)}, nil
	}, time.Millisecond, slog.Default())

	var wg sync.WaitGroup
	results := make([][]Item, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inv, err := loader.Load(context.Background(), 730, 2)
			assert.NoError(t, err)
			results[i] = inv
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	// give the other callers time to join the in-flight fetch
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, inv := range results {
		assert.Equal(t, []Item{testItem(1)}, inv)
	}

	inv, ok := loader.cached(730, 2)
	assert.True(t, ok)
	assert.Len(t, inv, 1)
}

func TestInventoryLoader_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")
	loader := newInventoryLoader(context.Background(), "our", func(ctx context.Context, appID uint32, contextID uint64) ([]Item, error) {
		calls.Add(1)
		return nil, boom
	}, time.Millisecond, slog.Default())

	_, err := loader.Load(context.Background(), 730, 2)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "cannot get our inventory for appid 730 contextid 2")
	assert.Equal(t, int32(inventoryAttempts), calls.Load())

	_, ok := loader.cached(730, 2)
	assert.False(t, ok)
}

func TestInventoryLoader_RecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	loader := newInventoryLoader(context.Background(), "our", func(ctx context.Context, appID uint32, contextID uint64) ([]Item, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("busy")
		}
		return []Item{testItem(2)}, nil
	}, time.Millisecond, slog.Default())

	inv, err := loader.Load(context.Background(), 730, 2)
	require.NoError(t, err)
	assert.Equal(t, []Item{testItem(2)}, inv)

	_, err = loader.Load(context.Background(), 730, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "second load is served from cache")
}

func TestInventoryLoader_CanceledWaiterLeavesFetchRunning(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	loader := newInventoryLoader(context.Background(), "partner", func(ctx context.Context, appID uint32, contextID uint64) ([]Item, error) {
		calls.Add(1)
		select {
		case <-release:
			return []Item{testItem(3)}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := loader.Load(ctx, 730, 2)
		first <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan []Item, 1)
	go func() {
		inv, err := loader.Load(context.Background(), 730, 2)
		assert.NoError(t, err)
		second <- inv
	}()

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)

	close(release)
	select {
	case inv := <-second:
		assert.Equal(t, []Item{testItem(3)}, inv)
	case <-time.After(time.Second):
		t.Fatal("second waiter did not get the inventory")
	}
	assert.Equal(t, int32(1), calls.Load())
}
