package service

import (
	"context"
	"errors"
	"iter"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
	"github.com/rl1809/warehouse-ledger/internal/platform/metrics"
	"github.com/rl1809/warehouse-ledger/internal/port"
)

const (
	defaultHistoryPageSize = 500
	sharedReadTimeout      = 10 * time.Second
)

var tracer = otel.Tracer("github.com/rl1809/warehouse-ledger/internal/core/service")

// LedgerDeps wires the ledger. Repo, Catalog and Locker are required; a nil
// Cache reads every quantity from the repository and a nil Publisher skips
// the event stream.
type LedgerDeps struct {
	Repo      port.LedgerRepository
	Catalog   *CatalogService
	Locker    port.SKULocker
	Cache     port.QuantityCache
	Publisher port.EventPublisher
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

type LedgerConfig struct {
	AllowNegativeStock bool
	AutoCreateStub     bool
	HistoryPageSize    int
}

// LedgerService is the only writer of stock movements. A SKU's quantity is
// the sum of its event deltas; the cache only remembers the latest fold.
type LedgerService struct {
	repo      port.LedgerRepository
	catalog   *CatalogService
	locker    port.SKULocker
	cache     port.QuantityCache
	publisher port.EventPublisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	cfg       LedgerConfig

	reads singleflight.Group
	now   func() time.Time
}

func NewLedgerService(deps LedgerDeps, cfg LedgerConfig) *LedgerService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = defaultHistoryPageSize
	}
	return &LedgerService{
		repo:      deps.Repo,
		catalog:   deps.Catalog,
		locker:    deps.Locker,
		cache:     deps.Cache,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Append validates ev, then commits it while holding the SKU's write slot.
// A replayed idempotency key returns the original event with
// domain.ErrDuplicateEvent.
func (s *LedgerService) Append(ctx context.Context, ev domain.LedgerEvent) (domain.LedgerEvent, error) {
	ctx, span := tracer.Start(ctx, "ledger.append", trace.WithAttributes(
		attribute.String("sku", ev.SKU),
		attribute.String("event.type", string(ev.Type)),
		attribute.Int64("event.delta", ev.Delta),
	))
	defer span.End()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	ev.Timestamp = ev.Timestamp.UTC()

	if err := ev.Validate(); err != nil {
		s.reject(span, err)
		return domain.LedgerEvent{}, err
	}

	start := time.Now()
	stored, quantity, err := s.appendLocked(ctx, ev)
	if errors.Is(err, domain.ErrDuplicateEvent) {
		s.logger.Debug("duplicate ledger event",
			zap.String("sku", ev.SKU),
			zap.String("idempotency_key", ev.IdempotencyKey),
			zap.Int64("event_id", stored.ID),
		)
		return stored, err
	}
	if err != nil {
		s.reject(span, err)
		return domain.LedgerEvent{}, err
	}

	s.metrics.ObserveAppend(time.Since(start))
	s.metrics.ObserveEvent(string(stored.Type))
	span.SetAttributes(attribute.Int64("event.id", stored.ID))

	s.afterCommit(context.WithoutCancel(ctx), stored, quantity)
	return stored, nil
}

func (s *LedgerService) appendLocked(ctx context.Context, ev domain.LedgerEvent) (domain.LedgerEvent, int64, error) {
	unlock, err := s.locker.Lock(ctx, ev.SKU)
	if err != nil {
		return domain.LedgerEvent{}, 0, err
	}
	defer unlock()

	if err := s.ensureKnown(ctx, ev); err != nil {
		return domain.LedgerEvent{}, 0, err
	}
	return s.repo.Append(ctx, ev, !s.cfg.AllowNegativeStock)
}

func (s *LedgerService) ensureKnown(ctx context.Context, ev domain.LedgerEvent) error {
	_, err := s.catalog.Get(ctx, ev.SKU)
	if err == nil || !errors.Is(err, domain.ErrUnknownSKU) {
		return err
	}
	if ev.Type != domain.EventReceive || !s.cfg.AutoCreateStub {
		return err
	}

	if err := s.catalog.ensureStub(ctx, ev.SKU); err != nil {
		return err
	}
	s.logger.Info("created stub item on first receive", zap.String("sku", ev.SKU))
	return nil
}

// afterCommit runs once the event is durable. Failures here never undo the append.
func (s *LedgerService) afterCommit(ctx context.Context, ev domain.LedgerEvent, quantity int64) {
	if s.cache != nil {
		if err := s.cache.SetQuantity(ctx, ev.SKU, quantity, ev.ID); err != nil {
			s.logger.Warn("failed to cache quantity", zap.String("sku", ev.SKU), zap.Error(err))
			_ = s.cache.Invalidate(ctx, ev.SKU)
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.metrics.IncrementPublishFailures()
			s.logger.Error("failed to publish ledger event",
				zap.String("sku", ev.SKU),
				zap.Int64("event_id", ev.ID),
				zap.Error(err),
			)
		}
	}
}

func (s *LedgerService) reject(span trace.Span, err error) {
	reason := failureReason(err)
	s.metrics.ObserveRejection(reason)
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
}

// failureReason maps an append error to a short label for metrics and reports.
func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrUnknownSKU):
		return "unknown_sku"
	case errors.Is(err, domain.ErrInvalidEvent):
		return "invalid_event"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "other"
}

// CurrentQuantity returns the SKU's fold. Concurrent misses for one SKU share
// a single repository read.
func (s *LedgerService) CurrentQuantity(ctx context.Context, sku string) (int64, error) {
	if s.cache != nil {
		q, ok, err := s.cache.GetQuantity(ctx, sku)
		if err != nil {
			s.logger.Warn("quantity cache read failed", zap.String("sku", sku), zap.Error(err))
		} else if ok {
			return q, nil
		}
	}

	// The shared read outlives any one caller; each caller still stops
	// waiting when its own ctx ends.
	ch := s.reads.DoChan(sku, func() (any, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
		defer cancel()

		q, watermark, err := s.repo.Quantity(readCtx, sku)
		if err != nil {
			return int64(0), err
		}
		if s.cache != nil && watermark > 0 {
			if err := s.cache.SetQuantity(readCtx, sku, q, watermark); err != nil {
				s.logger.Warn("failed to cache quantity", zap.String("sku", sku), zap.Error(err))
			}
		}
		return q, nil
	})

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	}
}

// History yields the SKU's events with ID above sinceID in ascending order,
// one repository page at a time. An empty sku walks the whole log. Each call
// of the returned sequence starts again from sinceID.
func (s *LedgerService) History(ctx context.Context, sku string, sinceID int64) iter.Seq2[domain.LedgerEvent, error] {
	return func(yield func(domain.LedgerEvent, error) bool) {
		after := sinceID
		for {
			page, err := s.repo.Events(ctx, domain.EventFilter{
				SKU:     sku,
				AfterID: after,
				Limit:   s.cfg.HistoryPageSize,
			})
			if err != nil {
				yield(domain.LedgerEvent{}, err)
				return
			}
			for _, ev := range page {
				if !yield(ev, nil) {
					return
				}
				after = ev.ID
			}
			if len(page) < s.cfg.HistoryPageSize {
				return
			}
		}
	}
}

func (s *LedgerService) Snapshot(ctx context.Context) (domain.StockSnapshot, error) {
	return s.repo.Quantities(ctx)
}

// Replay drops every cached fold, refolds the full log from empty state and
// seeds the cache with the result.
func (s *LedgerService) Replay(ctx context.Context) (domain.StockSnapshot, error) {
	if s.cache != nil {
		if err := s.cache.InvalidateAll(ctx); err != nil {
			return domain.StockSnapshot{}, err
		}
	}

	snap := domain.StockSnapshot{Quantities: make(map[string]int64)}
	lastID := make(map[string]int64)
	for ev, err := range s.History(ctx, "", 0) {
		if err != nil {
			return domain.StockSnapshot{}, err
		}
		snap.Apply(ev)
		lastID[ev.SKU] = ev.ID
	}

	if s.cache != nil {
		for sku, watermark := range lastID {
			if err := s.cache.SetQuantity(ctx, sku, snap.Quantity(sku), watermark); err != nil {
				s.logger.Warn("failed to seed quantity cache", zap.String("sku", sku), zap.Error(err))
			}
		}
	}

	s.logger.Info("ledger replayed",
		zap.Int("skus", len(lastID)),
		zap.Int64("watermark", snap.Watermark),
	)
	return snap, nil
}

func (s *LedgerService) Invalidate(ctx context.Context, skus ...string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, skus...)
}
