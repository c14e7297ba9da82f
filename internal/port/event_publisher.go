package port

import (
	"context"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
)

//go:generate mockgen -destination=mocks/mock_event_publisher.go -package=mocks . EventPublisher

type EventPublisher interface {
	// Publish hands a committed event to downstream consumers
	Publish(ctx context.Context, ev domain.LedgerEvent) error
	Close() error
}
