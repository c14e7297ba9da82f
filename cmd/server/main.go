package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/warehouse-ledger/internal/adapter/handler"
	"github.com/rl1809/warehouse-ledger/internal/adapter/messaging"
	"github.com/rl1809/warehouse-ledger/internal/adapter/storage"
	"github.com/rl1809/warehouse-ledger/internal/core/domain"
	"github.com/rl1809/warehouse-ledger/internal/core/service"
	"github.com/rl1809/warehouse-ledger/internal/platform/config"
	"github.com/rl1809/warehouse-ledger/internal/platform/logger"
	"github.com/rl1809/warehouse-ledger/internal/platform/metrics"
	"github.com/rl1809/warehouse-ledger/internal/platform/observability"
	"github.com/rl1809/warehouse-ledger/internal/port"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("WAREHOUSE_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging, cfg.Tracing.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("server stopped")
}

type repositories struct {
	ledger   port.LedgerRepository
	catalog  port.CatalogRepository
	sessions port.SessionRepository
	close    func() error
}

func openStorage(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (repositories, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := storage.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return repositories{}, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info("opened sqlite store", zap.String("path", cfg.Path))
		return repositories{ledger: s, catalog: s, sessions: s, close: s.Close}, nil

	case "mysql":
		db, err := sql.Open("mysql", cfg.DSN)
		if err != nil {
			return repositories{}, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return repositories{}, fmt.Errorf("ping mysql: %w", err)
		}
		s := storage.NewMySQLAdapter(db)
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return repositories{}, err
		}
		log.Info("connected to mysql")
		return repositories{ledger: s, catalog: s, sessions: s, close: s.Close}, nil
	}

	log.Warn("using in-memory store; stock is lost on restart")
	return repositories{
		ledger:   storage.NewMemoryLedger(),
		catalog:  storage.NewMemoryCatalog(),
		sessions: storage.NewMemorySessionStore(),
		close:    func() error { return nil },
	}, nil
}

func openLocking(ctx context.Context, cfg *config.Config, log *zap.Logger) (port.SKULocker, port.QuantityCache, func() error, error) {
	if cfg.Lock.Driver != "redis" {
		return storage.NewMemoryLocker(), storage.NewMemoryCache(), func() error { return nil }, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	r := storage.NewRedisAdapter(rdb,
		storage.WithLockTTL(cfg.Lock.TTL),
		storage.WithRetryInterval(cfg.Lock.RetryInterval),
	)
	return r, r, rdb.Close, nil
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing, version)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	repos, err := openStorage(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer repos.close()

	locker, cache, closeLocking, err := openLocking(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLocking()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var (
		publisher port.EventPublisher
		queue     *service.PublishQueue
		workers   sync.WaitGroup
	)
	if cfg.Kafka.Enabled {
		kafka := messaging.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafka.Close()

		queue = service.NewPublishQueue(cfg.Kafka.Workers, cfg.Kafka.QueueSize)
		publisher = queue
		for i, ch := range queue.Queues() {
			workers.Add(1)
			go func() {
				defer workers.Done()
				publishLoop(i, ch, kafka, m, log)
			}()
		}
		log.Info("started publish workers",
			zap.Int("workers", cfg.Kafka.Workers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	catalog := service.NewCatalogService(repos.catalog, log)
	ledger := service.NewLedgerService(service.LedgerDeps{
		Repo:      repos.ledger,
		Catalog:   catalog,
		Locker:    locker,
		Cache:     cache,
		Publisher: publisher,
		Logger:    log,
		Metrics:   m,
	}, service.LedgerConfig{
		AllowNegativeStock: cfg.Ledger.AllowNegativeStock,
		AutoCreateStub:     cfg.Ledger.AutoCreateStub,
		HistoryPageSize:    cfg.Ledger.HistoryPageSize,
	})
	resolver := service.NewScanResolver(catalog, m)
	reconciler := service.NewReconciliationService(ledger, log, m)
	audit := service.NewAuditService(repos.sessions, catalog, resolver, reconciler, log, m)
	svcs := handler.Services{
		Catalog:   catalog,
		Ledger:    ledger,
		Inventory: service.NewInventoryService(catalog, ledger, resolver, log),
		Resolver:  resolver,
		Audit:     audit,
		Importer:  service.NewImporter(ledger, catalog, log),
		Exporter:  service.NewExporter(ledger, catalog, audit),
	}

	if _, err := ledger.Replay(ctx); err != nil {
		return fmt.Errorf("replay ledger: %w", err)
	}

	router := handler.NewHTTPHandler(svcs, log).Routes()
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer()
	handler.RegisterInventoryServer(grpcServer, handler.NewGRPCHandler(svcs, log))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("warehouse.v1.Inventory", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("gRPC server listening", zap.String("addr", cfg.Server.GRPCAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		healthServer.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	err = g.Wait()

	// Servers are down, so nothing appends any more; drain what is queued.
	if queue != nil {
		queue.Close()
		workers.Wait()
		log.Info("publish workers stopped")
	}
	return err
}

func publishLoop(id int, queue <-chan domain.LedgerEvent, pub port.EventPublisher, m *metrics.Metrics, log *zap.Logger) {
	for ev := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := pub.Publish(ctx, ev); err != nil {
			m.IncrementPublishFailures()
			log.Error("publish ledger event",
				zap.Int("worker", id),
				zap.Int64("event_id", ev.ID),
				zap.String("sku", ev.SKU),
				zap.Error(err))
		}
		cancel()
	}
}
