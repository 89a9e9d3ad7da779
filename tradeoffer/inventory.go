package tradeoffer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	inventoryAttempts   = 3
	inventoryRetryDelay = 500 * time.Millisecond
)

type inventoryKey struct {
	AppID     uint32
	ContextID uint64
}

func (k inventoryKey) String() string {
	return fmt.Sprintf("%d_%d", k.AppID, k.ContextID)
}

type inventoryFetch func(ctx context.Context, appID uint32, contextID uint64) ([]Item, error)

// inventoryLoader caches inventories per app and context. Concurrent loads of
// the same inventory share one fetch; a failed fetch is retried before the
// error is handed to every waiter. The shared fetch runs under the loader's
// own context, so a waiter that gives up never fails the others.
type inventoryLoader struct {
	ctx        context.Context
	owner      string
	fetch      inventoryFetch
	retryDelay time.Duration
	log        *slog.Logger

	group singleflight.Group
	mu    sync.Mutex
	cache map[inventoryKey][]Item
}

func newInventoryLoader(ctx context.Context, owner string, fetch inventoryFetch, retryDelay time.Duration, log *slog.Logger) *inventoryLoader {
	return &inventoryLoader{
		ctx:        ctx,
		owner:      owner,
		fetch:      fetch,
		retryDelay: retryDelay,
		log:        log,
		cache:      make(map[inventoryKey][]Item),
	}
}

func (l *inventoryLoader) cached(appID uint32, contextID uint64) ([]Item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inv, ok := l.cache[inventoryKey{appID, contextID}]
	return inv, ok
}

func (l *inventoryLoader) Load(ctx context.Context, appID uint32, contextID uint64) ([]Item, error) {
	if inv, ok := l.cached(appID, contextID); ok {
		return inv, nil
	}

	key := inventoryKey{appID, contextID}
	ch := l.group.DoChan(key.String(), func() (interface{}, error) {
		ctx := l.ctx
		var lastErr error
		for attempt := 1; attempt <= inventoryAttempts; attempt++ {
			if attempt > 1 {
				if err := sleepCtx(ctx, l.retryDelay); err != nil {
					return nil, err
				}
			}

			l.log.Debug("loading inventory", "owner", l.owner, "inventory", key.String(), "attempt", attempt)
			inv, err := l.fetch(ctx, appID, contextID)
			if err != nil {
				l.log.Debug("inventory load failed", "owner", l.owner, "inventory", key.String(), "error", err)
				lastErr = err
				continue
			}

			l.mu.Lock()
			l.cache[key] = inv
			l.mu.Unlock()
			return inv, nil
		}
		return nil, fmt.Errorf("cannot get %s inventory for appid %d contextid %d: %w", l.owner, appID, contextID, lastErr)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Item), nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
