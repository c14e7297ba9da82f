package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
)

// ReceiveRequest books stock in. When Item is set the catalog entry is created
// first (an existing SKU is kept as is); an empty SKU is then generated.
type ReceiveRequest struct {
	SKU       string
	Quantity  int64
	Actor     string
	Reference string
	RequestID string
	Item      *domain.Item
}

// PickRequest takes stock out for the label in Payload.
type PickRequest struct {
	Payload   string
	Quantity  int64
	Actor     string
	Reference string
	RequestID string
}

type PickResult struct {
	Resolution domain.Resolution
	Event      domain.LedgerEvent
}

// InventoryService is the receive and pick workflow in front of the ledger.
// A RequestID makes the call safe to retry.
type InventoryService struct {
	catalog  *CatalogService
	ledger   *LedgerService
	resolver *ScanResolver
	logger   *zap.Logger
}

func NewInventoryService(catalog *CatalogService, ledger *LedgerService, resolver *ScanResolver, logger *zap.Logger) *InventoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryService{catalog: catalog, ledger: ledger, resolver: resolver, logger: logger}
}

func (s *InventoryService) Receive(ctx context.Context, req ReceiveRequest) (domain.LedgerEvent, error) {
	sku := req.SKU
	if req.Item != nil {
		item := *req.Item
		if item.SKU == "" {
			item.SKU = sku
		}
		if item.SKU == "" {
			item.SKU = generateSKU()
		}
		if _, err := s.catalog.Create(ctx, item); err != nil && !errors.Is(err, domain.ErrItemExists) {
			return domain.LedgerEvent{}, err
		}
		sku = item.SKU
	}

	ev, err := s.ledger.Append(ctx, domain.LedgerEvent{
		SKU:            sku,
		Type:           domain.EventReceive,
		Delta:          req.Quantity,
		Actor:          req.Actor,
		Reference:      req.Reference,
		IdempotencyKey: requestKey("receive", req.RequestID),
	})
	if errors.Is(err, domain.ErrDuplicateEvent) {
		return ev, nil
	}
	if err != nil {
		return domain.LedgerEvent{}, err
	}

	s.logger.Info("stock received",
		zap.String("sku", sku),
		zap.Int64("quantity", req.Quantity),
		zap.Int64("event_id", ev.ID),
	)
	return ev, nil
}

// Pick resolves the scanned label, then appends a pick for it. A malformed
// or unknown label is returned in the result alongside its error.
func (s *InventoryService) Pick(ctx context.Context, req PickRequest) (PickResult, error) {
	res, err := s.resolver.Resolve(ctx, req.Payload)
	if err != nil {
		return PickResult{}, err
	}
	if res.Kind != domain.Resolved {
		return PickResult{Resolution: res}, res.Err()
	}

	reference := req.Reference
	if reference == "" && res.Location != "" {
		reference = "bin:" + res.Location
	}

	ev, err := s.ledger.Append(ctx, domain.LedgerEvent{
		SKU:            res.SKU,
		Type:           domain.EventPick,
		Delta:          -req.Quantity,
		Actor:          req.Actor,
		Reference:      reference,
		IdempotencyKey: requestKey("pick", req.RequestID),
	})
	if errors.Is(err, domain.ErrDuplicateEvent) {
		return PickResult{Resolution: res, Event: ev}, nil
	}
	if err != nil {
		return PickResult{Resolution: res}, err
	}
	return PickResult{Resolution: res, Event: ev}, nil
}

func (s *InventoryService) ReorderReport(ctx context.Context) ([]domain.ReorderLine, error) {
	snap, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.catalog.BelowReorder(ctx, snap)
}

func requestKey(op, requestID string) string {
	if requestID == "" {
		return ""
	}
	return op + ":" + requestID
}

func generateSKU() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
