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
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/memory"
	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/ariefcatur/go-marketplace-orders/internal/mongodb"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/otp"
	"github.com/ariefcatur/go-marketplace-orders/internal/payout"
	"github.com/ariefcatur/go-marketplace-orders/internal/postgres"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
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
	log := logging.MustNewLogger(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api stopped", zap.Error(err))
	}
}

type stores struct {
	orders   orders.Store
	products inventory.Store
	shops    payout.BalanceStore
	close    func()
}

// openStores picks the persistence backend named by STORE_DRIVER.
func openStores(ctx context.Context, cfg config.Config, log *zap.Logger) (stores, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if cfg.MigrateOnStart {
			if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
				return stores{}, err
			}
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.DefaultPoolOptions())
		if err != nil {
			return stores{}, err
		}
		return stores{
			orders:   &postgres.OrderStore{DB: db},
			products: &postgres.ProductStore{DB: db},
			shops:    &postgres.ShopStore{DB: db},
			close:    db.Close,
		}, nil

	case config.DriverMongo:
		db, err := mongodb.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return stores{}, err
		}
		if err := mongodb.CreateIndexes(ctx, db); err != nil {
			_ = db.Client().Disconnect(ctx)
			return stores{}, err
		}
		return stores{
			orders:   mongodb.NewOrderStore(db),
			products: mongodb.NewProductStore(db),
			shops:    mongodb.NewShopStore(db),
			close:    func() { _ = db.Client().Disconnect(context.Background()) },
		}, nil

	default:
		log.Warn("using in-memory stores, data is lost on restart")
		return stores{
			orders:   memory.NewOrderStore(),
			products: memory.NewProductStore(),
			shops:    memory.NewShopStore(),
			close:    func() {},
		}, nil
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Storage
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer st.close()

	// Redis: lock checkout & limit OTP; tanpa Redis pakai versi in-process
	var (
		locker   orders.CheckoutLocker = memory.NewCheckoutLocker()
		attempts otp.AttemptLimiter    = otp.NewMemoryLimiter(cfg.OTPMaxAttempts, cfg.OTPAttemptWindow)
	)
	if cfg.RedisAddr != "" {
		rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
		locker = redisx.NewCheckoutLocker(rdb, cfg.CheckoutLockTTL, log)
		attempts = redisx.NewAttemptLimiter(rdb, cfg.OTPMaxAttempts, cfg.OTPAttemptWindow)
	} else {
		log.Warn("REDIS_ADDR empty, checkout locks and OTP limits are per process")
	}

	// Kafka producer
	var publisher orders.Publisher = orders.NopPublisher{}
	var prod *kafkax.Producer
	if cfg.KafkaEnabled() {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
		// bukan ctx sinyal: request yang masih drain saat Shutdown tetap bisa publish,
		// producer ditutup manual setelah server berhenti
		prod.Start(context.Background())
		publisher = kafkax.EventPublisher{P: prod}
	} else {
		log.Warn("KAFKA_BROKERS empty, order events are not published")
	}

	ledger := inventory.NewLedger(st.products, inventory.Options{Recorder: m, Logger: log})
	payouts, err := payout.NewEngine(payout.Config{CommissionRate: cfg.CommissionRate, Currency: cfg.Currency}, st.shops, m, log)
	if err != nil {
		return err
	}
	svc, err := orders.NewService(orders.Deps{
		Store:              st.orders,
		Ledger:             ledger,
		Payouts:            payouts,
		Codes:              otp.NewGenerator(cfg.OTPDigits),
		Attempts:           attempts,
		Locker:             locker,
		Publisher:          publisher,
		Recorder:           m,
		Logger:             log,
		ServiceName:        cfg.ServiceName,
		RequireDeliveryOTP: cfg.RequireDeliveryOTP,
	})
	if err != nil {
		return err
	}

	router := httpx.NewRouter(httpx.RouterConfig{
		Logger:   log,
		Recorder: m,
		Gatherer: reg,
		Timeout:  cfg.RequestTimeout * 3,
	})
	(&httpx.OrdersHandler{Service: svc, Log: log, Timeout: cfg.RequestTimeout}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.Instrument(router, cfg.ServiceName),
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	err = g.Wait()

	if prod != nil {
		prod.Close()      // tutup inbox -> flush & close writer
		prod.WaitClosed() // drain
	}
	return err
}
