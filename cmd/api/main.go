package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-art-storefront/internal/catalog"
	"github.com/ariefcatur/go-art-storefront/internal/checkout"
	"github.com/ariefcatur/go-art-storefront/internal/config"
	"github.com/ariefcatur/go-art-storefront/internal/httpx"
	"github.com/ariefcatur/go-art-storefront/internal/inventory"
	kafkax "github.com/ariefcatur/go-art-storefront/internal/kafka"
	"github.com/ariefcatur/go-art-storefront/internal/logx"
	"github.com/ariefcatur/go-art-storefront/internal/metrics"
	"github.com/ariefcatur/go-art-storefront/internal/orders"
	"github.com/ariefcatur/go-art-storefront/internal/postgres"
	"github.com/ariefcatur/go-art-storefront/internal/redisx"
	"github.com/ariefcatur/go-art-storefront/internal/shipping"
	"github.com/ariefcatur/go-art-storefront/internal/telemetry"
)

type catalogStore interface {
	inventory.Store
	httpx.ProductReader
	Put(ctx context.Context, p catalog.Product) error
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logx.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(cfg.ServiceName, cfg.TraceSampleRatio)
	defer func() { _ = shutdownTracing(context.Background()) }()
	m := metrics.NewRegistry()

	store, repo, closeStore, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	deps := checkout.Deps{
		Catalog:      store,
		Orders:       repo,
		Log:          log,
		Metrics:      m,
		Service:      cfg.ServiceName,
		StoreTimeout: cfg.StoreTimeout,
	}

	engine := inventory.NewEngine(store, log, m)
	engine.OpTimeout = cfg.StoreTimeout
	deps.Inventory = engine

	var rates shipping.RateAPI
	if cfg.Shipping.CarrierEnabled() {
		carrier := shipping.NewCarrierClient(cfg.Shipping.CarrierBaseURL, cfg.Shipping.CarrierToken, cfg.Shipping.PickupPin, cfg.Shipping.CarrierTimeout)
		rates, deps.Shipper = carrier, carrier
		log.Info("carrier integration enabled", zap.String("base_url", cfg.Shipping.CarrierBaseURL))
	} else {
		log.Info("carrier not configured, carrier orders use the bounded client cost")
	}
	deps.Shipping = shipping.NewVerifier(cfg.Shipping, rates, log, m)

	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		deps.Cache = &redisx.StatusCache{RDB: rdb}
	}

	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrders, 1024, log)
		prod.Start(ctx)
		deps.Events = &kafkax.OrderEvents{Queue: prod, Service: cfg.ServiceName}
	}

	svc := checkout.NewService(deps)
	router := httpx.NewRouter(log, m)
	auth := &httpx.Auth{Secret: []byte(cfg.JWTSecret), Log: log}
	(&httpx.ProductsHandler{Catalog: store, Log: log}).Register(router)
	(&httpx.OrdersHandler{Checkout: svc, Log: log}).Register(router, auth.Middleware)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
	return nil
}

func openStores(ctx context.Context, cfg config.Config, log *zap.Logger) (catalogStore, orders.Repo, func(), error) {
	var seed []catalog.Product
	if cfg.SeedFile != "" {
		ps, err := catalog.LoadSeed(cfg.SeedFile)
		if err != nil {
			return nil, nil, nil, err
		}
		seed = ps
	}

	if cfg.StoreDriver == "memory" {
		log.Warn("using in-memory store, data is lost on restart")
		return catalog.NewMemoryStore(seed...), orders.NewMemoryRepo(), func() {}, nil
	}

	db, err := connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	store := &catalog.PGStore{DB: db}
	for _, p := range seed {
		if err := store.Put(ctx, p); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
	}
	if len(seed) > 0 {
		log.Info("catalog seeded", zap.Int("products", len(seed)))
	}
	return store, &orders.PGRepo{DB: db}, db.Close, nil
}

func connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return postgres.Connect(ctx, dsn)
}
