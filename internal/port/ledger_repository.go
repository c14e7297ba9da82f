package port

import (
	"context"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
)

type LedgerRepository interface {
	// Append folds the SKU's committed events and writes ev atomically with that
	// fold. With enforceFloor set it fails with *domain.InsufficientStockError
	// when the result would be negative. Returns the stored event and the
	// SKU's quantity after it. A repeated idempotency key returns the original
	// event and domain.ErrDuplicateEvent.
	Append(ctx context.Context, ev domain.LedgerEvent, enforceFloor bool) (domain.LedgerEvent, int64, error)

	// Quantity folds one SKU and returns it with the highest event ID folded
	Quantity(ctx context.Context, sku string) (quantity int64, watermark int64, err error)

	// Quantities folds every SKU up to a single watermark
	Quantities(ctx context.Context) (domain.StockSnapshot, error)

	// Events returns one page of the log in ascending ID order
	Events(ctx context.Context, filter domain.EventFilter) ([]domain.LedgerEvent, error)
}

type CatalogRepository interface {
	// CreateItem fails with domain.ErrItemExists when the SKU is taken
	CreateItem(ctx context.Context, item domain.Item) error

	// GetItem fails with domain.ErrNotFound when the SKU is unknown
	GetItem(ctx context.Context, sku string) (domain.Item, error)

	UpdateItem(ctx context.Context, item domain.Item) error

	// ListItems returns every item ordered by SKU
	ListItems(ctx context.Context) ([]domain.Item, error)
}

type SessionRepository interface {
	// SaveSession inserts or replaces the session
	SaveSession(ctx context.Context, session domain.AuditSession) error

	// GetSession fails with domain.ErrSessionNotFound when the ID is unknown
	GetSession(ctx context.Context, id string) (domain.AuditSession, error)

	// ActiveSession returns the open or closing session, or nil when there is none
	ActiveSession(ctx context.Context) (*domain.AuditSession, error)
}
