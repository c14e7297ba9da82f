package storage

import (
	"context"
	"sync"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
)

type cachedFold struct {
	quantity  int64
	watermark int64
	valid     bool
}

// MemoryCache is the single-process QuantityCache. Invalidation keeps the
// watermark so a fold taken before the invalidation cannot be written back.
type MemoryCache struct {
	mu    sync.RWMutex
	folds map[string]cachedFold
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{folds: make(map[string]cachedFold)}
}

func (c *MemoryCache) GetQuantity(_ context.Context, sku string) (int64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.folds[sku]
	if !ok || !f.valid {
		return 0, false, nil
	}
	return f.quantity, true, nil
}

func (c *MemoryCache) SetQuantity(_ context.Context, sku string, quantity, watermark int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.folds[sku]; ok && f.watermark > watermark {
		return nil
	}
	c.folds[sku] = cachedFold{quantity: quantity, watermark: watermark, valid: true}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, skus ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sku := range skus {
		if f, ok := c.folds[sku]; ok {
			f.valid = false
			c.folds[sku] = f
		}
	}
	return nil
}

func (c *MemoryCache) InvalidateAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for sku, f := range c.folds {
		f.valid = false
		c.folds[sku] = f
	}
	return nil
}

type lockSlot struct {
	held chan struct{}
	refs int
}

// MemoryLocker is an in-process keyed mutex. Waiting honours ctx, so a
// cancelled request never queues behind a slow writer indefinitely.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*lockSlot)}
}

func (l *MemoryLocker) Lock(ctx context.Context, sku string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[sku]
	if !ok {
		slot = &lockSlot{held: make(chan struct{}, 1)}
		l.slots[sku] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.held <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.held
				l.release(sku, slot)
			})
		}, nil
	case <-ctx.Done():
		l.release(sku, slot)
		return nil, &domain.ConcurrentModificationError{SKU: sku, Err: ctx.Err()}
	}
}

func (l *MemoryLocker) release(sku string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, sku)
	}
}
