package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/warehouse-ledger/internal/adapter/storage"
	"github.com/rl1809/warehouse-ledger/internal/core/domain"
	"github.com/rl1809/warehouse-ledger/internal/platform/metrics"
	"github.com/rl1809/warehouse-ledger/internal/port"
)

// testEnv wires every service over the in-memory adapters.
type testEnv struct {
	repo       port.LedgerRepository
	cache      *storage.MemoryCache
	sessions   *storage.MemorySessionStore
	metrics    *metrics.Metrics
	catalog    *CatalogService
	ledger     *LedgerService
	resolver   *ScanResolver
	reconciler *ReconciliationService
	audit      *AuditService
	inventory  *InventoryService
}

type envOption func(*LedgerDeps, *LedgerConfig)

func withPublisher(p port.EventPublisher) envOption {
	return func(d *LedgerDeps, _ *LedgerConfig) { d.Publisher = p }
}

func withRepo(r port.LedgerRepository) envOption {
	return func(d *LedgerDeps, _ *LedgerConfig) { d.Repo = r }
}

func withConfig(cfg LedgerConfig) envOption {
	return func(_ *LedgerDeps, c *LedgerConfig) { *c = cfg }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	logger := zaptest.NewLogger(t)
	env := &testEnv{
		cache:    storage.NewMemoryCache(),
		sessions: storage.NewMemorySessionStore(),
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	env.catalog = NewCatalogService(storage.NewMemoryCatalog(), logger)

	deps := LedgerDeps{
		Repo:    storage.NewMemoryLedger(),
		Catalog: env.catalog,
		Locker:  storage.NewMemoryLocker(),
		Cache:   env.cache,
		Logger:  logger,
		Metrics: env.metrics,
	}
	var cfg LedgerConfig
	for _, opt := range opts {
		opt(&deps, &cfg)
	}
	env.repo = deps.Repo

	env.ledger = NewLedgerService(deps, cfg)
	env.resolver = NewScanResolver(env.catalog, env.metrics)
	env.reconciler = NewReconciliationService(env.ledger, logger, env.metrics)
	env.audit = NewAuditService(env.sessions, env.catalog, env.resolver, env.reconciler, logger, env.metrics)
	env.inventory = NewInventoryService(env.catalog, env.ledger, env.resolver, logger)
	return env
}

func (e *testEnv) addItem(t *testing.T, item domain.Item) domain.Item {
	t.Helper()
	created, err := e.catalog.Create(context.Background(), item)
	require.NoError(t, err)
	return created
}

func (e *testEnv) receive(t *testing.T, sku string, qty int64) domain.LedgerEvent {
	t.Helper()
	ev, err := e.ledger.Append(context.Background(), domain.LedgerEvent{
		SKU:   sku,
		Type:  domain.EventReceive,
		Delta: qty,
		Actor: "receiving",
	})
	require.NoError(t, err)
	return ev
}

func (e *testEnv) quantity(t *testing.T, sku string) int64 {
	t.Helper()
	q, err := e.ledger.CurrentQuantity(context.Background(), sku)
	require.NoError(t, err)
	return q
}

// countingRepo records how many pages the ledger asks for.
type countingRepo struct {
	port.LedgerRepository
	pages int
}

func (r *countingRepo) Events(ctx context.Context, f domain.EventFilter) ([]domain.LedgerEvent, error) {
	r.pages++
	return r.LedgerRepository.Events(ctx, f)
}

// gatedRepo holds every Quantity read until release is closed, then answers
// with the read's own context state.
type gatedRepo struct {
	port.LedgerRepository
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRepo) Quantity(ctx context.Context, sku string) (int64, int64, error) {
	r.entered <- struct{}{}
	<-r.release
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	return r.LedgerRepository.Quantity(ctx, sku)
}
