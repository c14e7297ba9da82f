package port

import "context"

type QuantityCache interface {
	// GetQuantity returns a cached fold; ok is false on a miss or after invalidation
	GetQuantity(ctx context.Context, sku string) (quantity int64, ok bool, err error)

	// SetQuantity stores a fold taken at watermark, ignored when a newer watermark is already stored
	SetQuantity(ctx context.Context, sku string, quantity, watermark int64) error

	// Invalidate drops cached folds so the next read replays from the log
	Invalidate(ctx context.Context, skus ...string) error

	InvalidateAll(ctx context.Context) error
}

type SKULocker interface {
	// Lock blocks until the caller holds the SKU's exclusive write slot or ctx is done
	Lock(ctx context.Context, sku string) (unlock func(), err error)
}
