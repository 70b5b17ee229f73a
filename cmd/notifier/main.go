package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-art-storefront/internal/config"
	kafkax "github.com/ariefcatur/go-art-storefront/internal/kafka"
	"github.com/ariefcatur/go-art-storefront/internal/logx"
	"github.com/ariefcatur/go-art-storefront/internal/metrics"
	"github.com/ariefcatur/go-art-storefront/internal/notify"
	"github.com/ariefcatur/go-art-storefront/internal/orders"
	"github.com/ariefcatur/go-art-storefront/internal/redisx"
	"github.com/ariefcatur/go-art-storefront/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logx.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("service", "notifier"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup("storefront-notifier", cfg.TraceSampleRatio)
	defer func() { _ = shutdownTracing(context.Background()) }()

	m := metrics.NewRegistry()
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &notify.Service{
		Dedup:   &redisx.Dedup{RDB: rdb, Service: "notifier"},
		Mailer:  notify.LogMailer{Log: log},
		Log:     log,
		Metrics: m,
	}
	consumer := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.TopicOrders, cfg.NotifierWorkers, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("consuming", zap.String("topic", orders.TopicOrders), zap.String("group", cfg.NotifierGroup), zap.Int("workers", cfg.NotifierWorkers))
		return consumer.Start(gctx, svc.Handle)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("notifier stopped", zap.Error(err))
	}
}
