package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/pos-checkout/internal/analytics"
	"github.com/xenking/pos-checkout/internal/domain/checkout"
	"github.com/xenking/pos-checkout/internal/domain/coupon"
	"github.com/xenking/pos-checkout/internal/domain/pricing"
	"github.com/xenking/pos-checkout/internal/handler"
	"github.com/xenking/pos-checkout/internal/repository"
	"github.com/xenking/pos-checkout/pkg/health"
	"github.com/xenking/pos-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	svc, err := newService(ctx, lg, m.TracerProvider(), m.MeterProvider(), cfg, pool)
	if err != nil {
		return err
	}
	defer svc.closeSinks()

	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Checkout.CommitTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		// Committed sales still queued get the rest of the shutdown budget.
		if err := svc.dispatcher.Close(shutdownCtx); err != nil {
			lg.Warn("Analytics queue not drained", zap.Error(err))
		}
		stats := svc.dispatcher.Stats()
		lg.Info("Analytics stopped",
			zap.Int64("recorded", stats.Recorded),
			zap.Int64("failed", stats.Failed),
			zap.Int64("dropped", stats.Dropped),
		)
		svc.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// service is the wired application minus the listener.
type service struct {
	handler    http.Handler
	health     *health.Health
	dispatcher *analytics.Dispatcher
	closeSinks func()
}

func newService(
	ctx context.Context,
	lg *zap.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	cfg *Config,
	pool *pgxpool.Pool,
) (*service, error) {
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, pool.Ping)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(cfg.Health.MaxGoroutines))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(cfg.Health.MaxGCPause))

	// Analytics sinks. Sales are recorded after commit and never block it.
	recorders, closeSinks, err := newRecorders(lg, cfg, healthSvc)
	if err != nil {
		return nil, err
	}

	dispatcher, err := analytics.NewDispatcher(recorders, analytics.DispatcherConfig{
		Workers:       cfg.Analytics.Workers,
		QueueSize:     cfg.Analytics.QueueSize,
		MaxAttempts:   cfg.Analytics.MaxAttempts,
		Logger:        lg.Named("analytics"),
		MeterProvider: mp,
	})
	if err != nil {
		closeSinks()
		return nil, errors.Wrap(err, "create analytics dispatcher")
	}

	// Repositories.
	catalogRepo := repository.NewCatalogRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	checkoutStore := repository.NewCheckoutStore(pool)

	// Domain services.
	engine, err := checkout.NewEngine(
		catalogRepo,
		coupon.NewRepoValidator(couponRepo),
		checkoutStore,
		pricing.New(int32(cfg.Currency.Scale)),
		checkout.Options{
			CommitTimeout:  cfg.Checkout.CommitTimeout,
			Notifier:       dispatcher,
			MeterProvider:  mp,
			TracerProvider: tp,
		},
	)
	if err != nil {
		_ = dispatcher.Close(ctx)
		closeSinks()
		return nil, errors.Wrap(err, "create checkout engine")
	}

	// HTTP handlers.
	h := handler.NewHandler(
		handler.HandlerConfig{
			Scale:        int32(cfg.Currency.Scale),
			Receipt:      cfg.ReceiptHeader(),
			ReceiptWidth: cfg.Receipt.Width,
			MaxBodyBytes: cfg.Checkout.MaxBodyBytes,
		},
		catalogRepo,
		engine,
	)

	// Router: health endpoints + API routes on one server.
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Mount("/api", h.Routes())

	corsCfg := httpmiddleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.CORS.Origins
	corsCfg.AllowCredentials = cfg.CORS.AllowCredentials

	return &service{
		handler: httpmiddleware.Wrap(r,
			httpmiddleware.Instrument("pos-api", tp, mp),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(corsCfg),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Skip:   isProbe,
			}),
		),
		health:     healthSvc,
		dispatcher: dispatcher,
		closeSinks: closeSinks,
	}, nil
}

// newRecorders builds the configured analytics sinks. With none configured
// sales are discarded after commit.
func newRecorders(lg *zap.Logger, cfg *Config, healthSvc *health.Health) (analytics.Recorder, func(), error) {
	var (
		recorders analytics.Multi
		closers   []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				lg.Warn("Close analytics sink", zap.Error(err))
			}
		}
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "parse redis url")
		}
		client := redis.NewClient(opts)
		closers = append(closers, client.Close)

		rec := analytics.NewRedisRecorder(client, cfg.Analytics.KeyPrefix)
		healthSvc.AddDegradedCheck("redis", 2*time.Second, rec.Ping)
		recorders = append(recorders, rec)
	}

	if cfg.Kafka.Brokers != "" {
		w, err := analytics.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			closeAll()
			return nil, nil, errors.Wrap(err, "create kafka writer")
		}
		rec := analytics.NewKafkaRecorder(w)
		closers = append(closers, rec.Close)
		recorders = append(recorders, rec)
	}

	switch len(recorders) {
	case 0:
		lg.Warn("No analytics sink configured, sales will not be recorded")
		return analytics.Nop{}, closeAll, nil
	case 1:
		return recorders[0], closeAll, nil
	default:
		return recorders, closeAll, nil
	}
}

func isProbe(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz" || strings.HasPrefix(r.URL.Path, "/debug/")
}
