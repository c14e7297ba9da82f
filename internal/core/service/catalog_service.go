package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
	"github.com/rl1809/warehouse-ledger/internal/port"
)

// CatalogService owns item metadata. Quantities never live here.
type CatalogService struct {
	repo   port.CatalogRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewCatalogService(repo port.CatalogRepository, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{repo: repo, logger: logger, now: time.Now}
}

func (s *CatalogService) Create(ctx context.Context, item domain.Item) (domain.Item, error) {
	if !domain.ValidSKU(item.SKU) {
		return domain.Item{}, fmt.Errorf("%w: invalid sku %q", domain.ErrInvalidItem, item.SKU)
	}
	if item.UnitOfMeasure == "" {
		item.UnitOfMeasure = domain.DefaultUnitOfMeasure
	}
	if item.CodeType == "" {
		item.CodeType = domain.CodeTypeCode128
	}
	if err := validateDescriptive(item); err != nil {
		return domain.Item{}, err
	}

	now := s.now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now

	if err := s.repo.CreateItem(ctx, item); err != nil {
		return domain.Item{}, err
	}
	s.logger.Info("item created", zap.String("sku", item.SKU), zap.Bool("stub", item.Stub))
	return item, nil
}

func validateDescriptive(item domain.Item) error {
	if item.ReorderThreshold < 0 {
		return fmt.Errorf("%w: reorder threshold must be non-negative", domain.ErrInvalidItem)
	}
	switch item.CodeType {
	case domain.CodeTypeCode128, domain.CodeTypeQR:
	default:
		return fmt.Errorf("%w: unknown code type %q", domain.ErrInvalidItem, item.CodeType)
	}
	return nil
}

// Get returns *domain.UnknownSkuError when the SKU is not in the catalog.
func (s *CatalogService) Get(ctx context.Context, sku string) (domain.Item, error) {
	item, err := s.repo.GetItem(ctx, sku)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Item{}, &domain.UnknownSkuError{SKU: sku}
	}
	return item, err
}

// Update edits descriptive fields only; SKU and unit of measure are fixed.
func (s *CatalogService) Update(ctx context.Context, sku string, patch domain.ItemPatch) (domain.Item, error) {
	item, err := s.Get(ctx, sku)
	if err != nil {
		return domain.Item{}, err
	}

	item = patch.Apply(item)
	if err := validateDescriptive(item); err != nil {
		return domain.Item{}, err
	}
	item.UpdatedAt = s.now().UTC()

	if err := s.repo.UpdateItem(ctx, item); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Item{}, &domain.UnknownSkuError{SKU: sku}
		}
		return domain.Item{}, err
	}
	return item, nil
}

func (s *CatalogService) List(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

func (s *CatalogService) Search(ctx context.Context, q domain.ItemQuery) ([]domain.Item, error) {
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	var out []domain.Item
	for _, item := range items {
		if matchesQuery(item, q) {
			out = append(out, item)
		}
	}
	return out, nil
}

func matchesQuery(item domain.Item, q domain.ItemQuery) bool {
	contains := func(field, needle string) bool {
		return needle == "" || strings.Contains(strings.ToLower(field), strings.ToLower(needle))
	}

	if !contains(item.Make, q.Make) || !contains(item.Model, q.Model) || !contains(item.PartNumber, q.PartNumber) {
		return false
	}
	if q.Text == "" {
		return true
	}
	for _, field := range []string{
		item.SKU, item.Description, item.Make, item.Model, item.PartNumber,
		item.SerialNumber, item.BinLocation, item.Notes,
	} {
		if contains(field, q.Text) {
			return true
		}
	}
	return false
}

// Labels projects items for label printing. No SKUs means every item.
func (s *CatalogService) Labels(ctx context.Context, skus []string) ([]domain.LabelRecord, error) {
	var items []domain.Item
	if len(skus) == 0 {
		all, err := s.repo.ListItems(ctx)
		if err != nil {
			return nil, err
		}
		items = all
	} else {
		for _, sku := range skus {
			item, err := s.Get(ctx, sku)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}

	labels := make([]domain.LabelRecord, 0, len(items))
	for _, item := range items {
		labels = append(labels, domain.LabelRecord{
			SKU:         item.SKU,
			Description: item.Description,
			Location:    item.BinLocation,
			CodeType:    item.CodeType,
		})
	}
	return labels, nil
}

// BelowReorder lists items with a threshold whose quantity in snap is at or below it.
func (s *CatalogService) BelowReorder(ctx context.Context, snap domain.StockSnapshot) ([]domain.ReorderLine, error) {
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	var lines []domain.ReorderLine
	for _, item := range items {
		if item.ReorderThreshold <= 0 {
			continue
		}
		if q := snap.Quantity(item.SKU); q <= item.ReorderThreshold {
			lines = append(lines, domain.ReorderLine{
				SKU:              item.SKU,
				Description:      item.Description,
				Quantity:         q,
				ReorderThreshold: item.ReorderThreshold,
			})
		}
	}
	return lines, nil
}

// ensureStub creates a placeholder item for a SKU first seen on receive.
// Losing a creation race to another writer is not an error.
func (s *CatalogService) ensureStub(ctx context.Context, sku string) error {
	_, err := s.Create(ctx, domain.Item{SKU: sku, Stub: true})
	if errors.Is(err, domain.ErrItemExists) {
		return nil
	}
	return err
}
