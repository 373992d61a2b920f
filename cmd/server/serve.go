package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/metrics"
	"github.com/rl1809/storefront/internal/adapter/payment"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/adapter/webhook"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/pkg/logging"
	"github.com/rl1809/storefront/internal/port"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Service.Name, cfg.Service.Env, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	cache, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	prom := metrics.NewPrometheus()
	processor := payment.NewBreakerProcessor(
		newProcessor(cfg, logger),
		cfg.Payments.Breaker.MaxFailures,
		cfg.Payments.Breaker.OpenTimeout,
		prom,
		logger,
	)

	ledger := service.NewInventoryLedger(prom)
	carts := service.NewCartService(store, cache)
	orders := service.NewOrderService(store, cache, prom, cfg.Checkout.RequireIdempotencyKey)
	payments := service.NewPaymentService(store, processor)
	settlement := service.NewSettlementService(store, cache, ledger, prom)
	refunds := service.NewRefundService(store, processor)

	if cfg.Payments.WebhookSecret == "" && cfg.Payments.AllowUnverifiedWebhooks {
		logger.Warn("webhook signature verification disabled")
	}

	// gRPC server
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpcServer.RegisterService(&handler.OrdersServiceDesc, handler.NewGRPCHandler(orders, payments, refunds))

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPC.Addr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP server
	httpHandler := handler.NewHTTPHandler(handler.HTTPHandlerConfig{
		Carts:          carts,
		Orders:         orders,
		Payments:       payments,
		Settlement:     settlement,
		Refunds:        refunds,
		Decoder:        webhook.NewDecoder(cfg.Payments.WebhookSecret, cfg.Payments.AllowUnverifiedWebhooks),
		Logger:         logger,
		MetricsHandler: prom.Handler(),
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: httpHandler.Router(),
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.Store, func(), error) {
	if cfg.Storage.Driver == "memory" {
		mem := storage.NewMemoryStore()
		seedCatalog(mem)
		logger.Info("using in-memory store")
		return mem, func() {}, nil
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping mysql: %w", err)
	}
	logger.Info("connected to mysql")

	return storage.NewMySQLAdapter(db), func() { db.Close() }, nil
}

// openCache returns a no-op cache when no Redis address is configured.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.CacheRepository, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info("redis disabled")
		return storage.NopCache{}, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("connected to redis")

	return storage.NewRedisAdapter(rdb, cfg.Redis.CartTTL, cfg.Redis.EventTTL), func() { rdb.Close() }, nil
}

func newProcessor(cfg *config.Config, logger *zap.Logger) port.PaymentProcessor {
	if cfg.Payments.Provider == "stripe" {
		return payment.NewStripeProcessor(cfg.Payments.SecretKey)
	}
	logger.Warn("using in-memory payment processor")
	return payment.NewMemoryProcessor()
}

// seedCatalog loads a small catalog so the in-memory store is usable without a database.
func seedCatalog(mem *storage.MemoryStore) {
	mem.PutProduct(domain.Product{ID: 1, SKU: "IPHN13", Title: "Phone 13", Price: decimal.RequireFromString("799.00"), Currency: domain.DefaultCurrency, StockQty: 25, Active: true})
	mem.PutProduct(domain.Product{ID: 2, SKU: "CASE13", Title: "Phone 13 Case", Price: decimal.RequireFromString("19.99"), Currency: domain.DefaultCurrency, StockQty: 500, Active: true})
	mem.PutProduct(domain.Product{ID: 3, SKU: "CHRGR", Title: "USB-C Charger", Price: decimal.RequireFromString("29.50"), Currency: domain.DefaultCurrency, StockQty: 100, Active: true})
}
