package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/acquiremock/internal/common"
	"github.com/noah-isme/acquiremock/internal/config"
	"github.com/noah-isme/acquiremock/internal/csrf"
	"github.com/noah-isme/acquiremock/internal/health"
	"github.com/noah-isme/acquiremock/internal/lock"
	"github.com/noah-isme/acquiremock/internal/notify"
	"github.com/noah-isme/acquiremock/internal/obs"
	"github.com/noah-isme/acquiremock/internal/payment"
	"github.com/noah-isme/acquiremock/internal/queue"
	"github.com/noah-isme/acquiremock/internal/ratelimit"
	"github.com/noah-isme/acquiremock/internal/repo"
	"github.com/noah-isme/acquiremock/internal/resilience"
	"github.com/noah-isme/acquiremock/internal/vault"
	"github.com/noah-isme/acquiremock/internal/web"
)

const serviceName = "acquiremock"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(envOrDefault("OBS_LOG_FORMAT", "json"), envOrDefault("OBS_LOG_LEVEL", "info")).
		With().Str("component", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs.MustRegisterDomainMetrics(serviceName, nil)
	httpMetrics := obs.NewHTTPMetrics(serviceName, obs.ParseBucketsCSV(os.Getenv("OBS_HTTP_BUCKETS")), nil)

	tracingEnabled := envOrDefault("OBS_TRACING_ENABLED", "false") == "true"
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   serviceName,
			Endpoint:      os.Getenv("OBS_OTLP_ENDPOINT"),
			SamplingRatio: parseFloat(os.Getenv("OBS_TRACE_SAMPLING"), 1),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("init tracing")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("shutdown tracing")
			}
		}()
	}

	redisClient := mustInitRedis(ctx, cfg, logger, tracingEnabled)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	payStore, vaultStore, logStore, pool := mustInitStore(ctx, cfg, logger)
	if pool != nil {
		defer pool.Close()
	}

	guard := &csrf.Guard{
		Store: csrf.RedisStore{R: redisClient, Prefix: cfg.QueueRedisPrefix + ":csrf"},
		TTL:   cfg.PaymentTTL,
	}
	vlt := vault.Vault{Store: vaultStore}

	enqueuer := queue.Enqueuer{R: redisClient, Prefix: cfg.QueueRedisPrefix}
	dispatcher := notify.Dispatcher{
		Queue:              enqueuer,
		WebhookMaxAttempts: cfg.WebhookMaxAttempts,
		EmailMaxAttempts:   cfg.QueueMaxAttempts,
		Logger:             logger,
	}

	lifecycle := &payment.Lifecycle{
		Store:          payStore,
		Guard:          guard,
		Vault:          vlt,
		Dispatcher:     dispatcher,
		Logger:         logger,
		TTL:            cfg.PaymentTTL,
		OTPRequired:    cfg.OTPRequired,
		OTPLength:      cfg.OTPLength,
		OTPMaxAttempts: cfg.OTPMaxAttempts,
		OTPLimiter:     ratelimit.Limiter{Client: redisClient, Prefix: cfg.QueueRedisPrefix},
	}

	notifier := notify.Notifier{
		Payments: payStore,
		Logs:     logStore,
		HTTP: resilience.HTTPClient{
			Client:  &http.Client{},
			Breaker: resilience.NewBreaker("webhook-delivery", 5, 0.5, 30*time.Second, logger),
			Timeout: cfg.WebhookTimeout,
			// one attempt per queue delivery; the queue owns the retry schedule
			MaxAttempts: 1,
		},
		Secret: cfg.WebhookSecret,
		Logger: logger,
	}
	deliveryWorker := notify.DeliveryWorker{
		Notifier: notifier,
		Locker:   lock.Locker{R: redisClient, Prefix: cfg.QueueRedisPrefix, RetryBackoff: cfg.LockRetryBackoff},
		LockTTL:  cfg.LockTTL,
	}
	emailWorker := notify.EmailWorker{
		Mail:           buildEmailSender(cfg, logger),
		Payments:       payStore,
		CurrencySymbol: cfg.CurrencySymbol,
		Logger:         logger,
	}

	startWorkers(ctx, cfg, redisClient, logger, deliveryWorker, emailWorker)

	renderer, err := web.NewRenderer(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse templates")
	}

	handlers := &payment.Handlers{
		Lifecycle:      lifecycle,
		Vault:          vlt,
		Pages:          renderer,
		Validate:       validator.New(),
		Logger:         logger,
		PageURL:        cfg.CheckoutURL,
		CurrencySymbol: cfg.CurrencySymbol,
		CookieSecure:   cfg.CookieSecure,
		CookieSameSite: cfg.CookieSameSite,
	}
	logsHandler := notify.LogsHandler{Logs: logStore, Payments: payStore, Logger: logger}
	healthHandler := health.Handler{Redis: redisClient, Pool: pool}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Signature"},
		AllowCredentials: true,
	}))
	router.Use(obs.SecurityHeaders)
	router.Use(obs.RoutePatternMiddleware)
	router.Use(obs.RequestLogger{Logger: logger}.Middleware)
	router.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	if tracingEnabled {
		router.Use(obs.TracingMiddleware)
	}
	if cfg.RateLimitEnabled {
		router.Use(ratelimit.Handler{
			Limiter: ratelimit.Limiter{Client: redisClient, Prefix: cfg.QueueRedisPrefix + ":http"},
			Config: ratelimit.Config{
				Key:    func(r *http.Request) string { return r.RemoteAddr },
				Window: cfg.RateLimitWindow,
				Max:    cfg.RateLimitMax,
			},
			Logger: logger,
		}.Middleware)
	}

	handlers.Register(router)
	logsHandler.Register(router)
	router.Get("/health", healthHandler.Live)
	router.Get("/ready", healthHandler.Ready)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/", describeService)
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		renderer.Render(w, http.StatusNotFound, "error.html", map[string]any{
			"Title":   "Page not found",
			"Message": "The page you are looking for does not exist.",
		})
	})

	var handler http.Handler = router
	if tracingEnabled {
		handler = otelhttp.NewHandler(router, serviceName)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Msg("api starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	logger.Info().Msg("shutdown complete")
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger, tracing bool) *redis.Client {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if tracing {
		if err := redisotel.InstrumentTracing(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis tracing")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	return client
}

func mustInitStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (payment.Store, vault.Store, notify.LogStore, *pgxpool.Pool) {
	if cfg.StoreDriver == config.StoreMemory {
		m := repo.NewMemory()
		return m, m, m, nil
	}

	if err := repo.MigrateUp(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	pg := &repo.Postgres{Pool: pool}
	return pg, pg, pg, pool
}

func buildEmailSender(cfg *config.Config, logger zerolog.Logger) common.EmailSender {
	if cfg.EmailEnabled && cfg.SMTPHost != "" {
		return common.SMTPEmail{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
			From: cfg.SMTPFrom,
		}
	}
	logger.Info().Msg("email sending disabled")
	return common.NopEmailSender{}
}

// startWorkers runs the notification consumers in-process alongside the API.
func startWorkers(ctx context.Context, cfg *config.Config, r *redis.Client, logger zerolog.Logger, delivery notify.DeliveryWorker, email notify.EmailWorker) {
	workers := []queue.Worker{
		{
			Kind:      notify.KindWebhookDeliver,
			Handler:   delivery.Handle,
			RetryBase: cfg.WebhookBackoffBase,
		},
		{
			Kind:      notify.KindOTPEmail,
			Handler:   email.HandleOTP,
			RetryBase: time.Second,
		},
		{
			Kind:      notify.KindReceiptEmail,
			Handler:   email.HandleReceipt,
			RetryBase: time.Second,
		},
	}
	for _, w := range workers {
		w.R = r
		w.Prefix = cfg.QueueRedisPrefix
		w.VisibilityTimeout = cfg.QueueVisibility
		w.RetryJitter = 0.2
		w.Logger = logger.With().Str("worker", w.Kind).Logger()
		go func(w queue.Worker) {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("worker", w.Kind).Msg("worker stopped with error")
			}
		}(w)
	}
}

func describeService(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{
		"service": "AcquireMock Payment Gateway",
		"version": "1.0.0",
		"status":  "operational",
		"endpoints": map[string]string{
			"create_invoice": "POST /api/create-invoice",
			"checkout":       "GET /checkout/{payment_id}",
			"process":        "POST /api/pay/{payment_id}",
			"otp_verify":     "POST /api/otp/verify/{payment_id}",
			"success":        "GET /success/{payment_id}",
			"user_info":      "GET /api/user-info?email=",
			"refund":         "POST /api/refund/{payment_id}",
			"webhook_logs":   "GET /api/webhook-logs/{payment_id}",
			"health":         "GET /health",
		},
	})
}

func corsOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseFloat(value string, fallback float64) float64 {
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return f
}
