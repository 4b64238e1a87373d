package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/clientportal/libs/auth"
	"github.com/md-rashed-zaman/clientportal/libs/config"
	"github.com/md-rashed-zaman/clientportal/libs/db"
	"github.com/md-rashed-zaman/clientportal/libs/httpx"
	"github.com/md-rashed-zaman/clientportal/libs/kafkax"
	otelx "github.com/md-rashed-zaman/clientportal/libs/otel"
	"github.com/md-rashed-zaman/clientportal/libs/runtime"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/fusion"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/gateway"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/handlers"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/metrics"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/outbox"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/productcache"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/storage"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/subscriptions"
)

func main() {
	_ = config.LoadDotEnv(".env", ".env.local")

	service := config.String("SERVICE_NAME", "portal-billing")
	port, err := config.Port("PORT", "8090")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.ShutdownContext(context.Background())
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.DefaultOptions())
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	callTimeout := config.Duration("PORTAL_GATEWAY_TIMEOUT", fusion.DefaultCallTimeout)
	stripeCfg := gateway.StripeConfig{
		SecretKey: config.String("STRIPE_SECRET_KEY", ""),
		Timeout:   callTimeout,
		BaseURL:   config.String("STRIPE_API_BASE", ""),
		Logger:    logger,
		Metrics:   m,
	}
	gw, err := gateway.NewStripeGateway(stripeCfg)
	if err != nil {
		logger.Error("stripe gateway misconfigured", "err", err)
		panic(err)
	}
	logger.Info("stripe gateway configured", "test_mode", stripeCfg.IsTestMode())

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	products := productcache.New(config.Duration("PORTAL_PRODUCT_CACHE_TTL", productcache.DefaultTTL), productcache.WithMetrics(m))
	engine := fusion.New(repo, gw, products, logger, m, fusion.Config{
		CallTimeout:       callTimeout,
		InvoiceLimit:      int64(config.Int("PORTAL_INVOICE_LIMIT", fusion.DefaultInvoiceLimit)),
		SubscriptionLimit: int64(config.Int("PORTAL_SUBSCRIPTION_LIMIT", fusion.DefaultSubscriptionLimit)),
		PaymentLimit:      int64(config.Int("PORTAL_PAYMENT_LIMIT", fusion.DefaultPaymentLimit)),
	})
	lifecycle := subscriptions.New(repo, gw, outboxRepo, logger, m, subscriptions.Config{
		CallTimeout:       callTimeout,
		DefaultSuccessURL: config.String("CHECKOUT_SUCCESS_URL", ""),
		DefaultCancelURL:  config.String("CHECKOUT_CANCEL_URL", ""),
	})

	verifier := auth.Verifier{HSSecret: config.String("PORTAL_JWT_SECRET", "")}
	if jwksURL := config.String("PORTAL_JWKS_URL", ""); jwksURL != "" {
		verifier.JWKS = auth.NewJWKSClient(jwksURL, config.Duration("PORTAL_JWKS_TTL", 10*time.Minute))
	}
	if !verifier.Enabled() {
		logger.Warn("bearer verification disabled, trusting gateway identity headers")
	}

	h := handlers.New(engine, lifecycle, repo, outboxRepo, logger, m, handlers.Config{
		StripeWebhookSecret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookToleranceSeconds: config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
		Verifier:                      verifier,
	})

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers), Optional: true},
	}

	limit := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	var rateLimit httpx.Middleware
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			panic(err)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb), Optional: true})
		rateLimit = httpx.NewRedisRateLimiter(rdb, httpx.RedisRateLimiterConfig{
			Limit:    limit,
			Window:   time.Minute,
			Prefix:   service + ":rl",
			Logger:   logger,
			FailOpen: true,
		}).Middleware()
	} else {
		rateLimit = httpx.NewRateLimiter(limit, time.Minute).Middleware()
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", m.Handler())
	h.Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS"),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.Only(rateLimit, http.MethodPost),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Duration("HTTP_HANDLER_TIMEOUT", 30*time.Second)),
	)
	handler = otelhttp.NewHandler(handler, "portal-billing")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
