package handler

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/warehouse-ledger/internal/adapter/storage"
	"github.com/rl1809/warehouse-ledger/internal/core/domain"
	"github.com/rl1809/warehouse-ledger/internal/core/service"
	"github.com/rl1809/warehouse-ledger/internal/platform/metrics"
)

// newTestServices wires the full service graph over in-memory storage and
// stocks A=10 (bin R1) and B=5.
func newTestServices(t *testing.T) Services {
	t.Helper()

	logger := zaptest.NewLogger(t)
	m := metrics.New(prometheus.NewRegistry())

	catalog := service.NewCatalogService(storage.NewMemoryCatalog(), logger)
	ledger := service.NewLedgerService(service.LedgerDeps{
		Repo:    storage.NewMemoryLedger(),
		Catalog: catalog,
		Locker:  storage.NewMemoryLocker(),
		Cache:   storage.NewMemoryCache(),
		Logger:  logger,
		Metrics: m,
	}, service.LedgerConfig{})
	resolver := service.NewScanResolver(catalog, m)
	reconciler := service.NewReconciliationService(ledger, logger, m)
	audit := service.NewAuditService(storage.NewMemorySessionStore(), catalog, resolver, reconciler, logger, m)

	svc := Services{
		Catalog:   catalog,
		Ledger:    ledger,
		Inventory: service.NewInventoryService(catalog, ledger, resolver, logger),
		Resolver:  resolver,
		Audit:     audit,
		Importer:  service.NewImporter(ledger, catalog, logger),
		Exporter:  service.NewExporter(ledger, catalog, audit),
	}

	ctx := context.Background()
	for _, item := range []domain.Item{
		{SKU: "A", Description: "widget", BinLocation: "R1", ReorderThreshold: 20},
		{SKU: "B", Description: "gadget"},
	} {
		_, err := catalog.Create(ctx, item)
		require.NoError(t, err)
	}
	for _, stock := range []struct {
		sku string
		qty int64
	}{{"A", 10}, {"B", 5}} {
		_, err := ledger.Append(ctx, domain.LedgerEvent{SKU: stock.sku, Type: domain.EventReceive, Delta: stock.qty, Actor: "setup"})
		require.NoError(t, err)
	}
	return svc
}
