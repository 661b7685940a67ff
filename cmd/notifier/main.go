package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/ariefcatur/go-marketplace-orders/internal/notify"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.MustNewLogger(cfg.ServiceName+"-notifier", cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("notifier stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	if !cfg.KafkaEnabled() {
		return errors.New("KAFKA_BROKERS is required for the notifier")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// Redis dedup opsional: tanpa Redis, redelivery bisa kirim notifikasi dobel
	var dedup notify.Dedup
	if cfg.RedisAddr != "" {
		rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
		dedup = redisx.NewDedup(rdb, cfg.NotifierGroup, redisx.TTLDedup)
	} else {
		log.Warn("REDIS_ADDR empty, notifications are not deduplicated")
	}

	h := notify.NewHandler(notify.LogNotifier{Log: log}, dedup, m, log)

	router := httpx.NewRouter(httpx.RouterConfig{Logger: log, Recorder: m, Gatherer: reg})
	srv := &http.Server{Addr: cfg.NotifierHTTPAddr, Handler: router, ReadHeaderTimeout: cfg.RequestTimeout}

	g, gctx := errgroup.WithContext(ctx)
	// satu consumer per topic, group yang sama
	for _, topic := range []string{orders.TopicOrderCreated, orders.TopicOrderStatusChanged} {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, topic, cfg.NotifierWorkers, log)
		g.Go(func() error {
			log.Info("consumer started",
				zap.String("group", cfg.NotifierGroup),
				zap.String("topic", cons.Topic()),
				zap.Int("workers", cfg.NotifierWorkers),
			)
			return cons.Start(gctx, h.Handle)
		})
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down notifier")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
