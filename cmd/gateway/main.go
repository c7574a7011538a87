package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lalithlochan/nimbus-reminders/internal/api"
	"github.com/lalithlochan/nimbus-reminders/internal/channel"
	"github.com/lalithlochan/nimbus-reminders/internal/circuitbreaker"
	"github.com/lalithlochan/nimbus-reminders/internal/config"
	"github.com/lalithlochan/nimbus-reminders/internal/content"
	"github.com/lalithlochan/nimbus-reminders/internal/db"
	"github.com/lalithlochan/nimbus-reminders/internal/gate"
	"github.com/lalithlochan/nimbus-reminders/internal/metrics"
	"github.com/lalithlochan/nimbus-reminders/internal/observ"
	"github.com/lalithlochan/nimbus-reminders/internal/redis"
	"github.com/lalithlochan/nimbus-reminders/internal/reminder"
	"github.com/lalithlochan/nimbus-reminders/internal/retry"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting nimbus reminders",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, db.Config{
		URL:      cfg.DatabaseURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		MaxConns: int32(cfg.DBMaxConns),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis is optional: without it scheduling is not idempotent and the
	// API is not rate limited.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var gatewayBreakers breakers
	emailGateway, err := newEmailGateway(ctx, cfg, &gatewayBreakers, logger)
	if err != nil {
		return fmt.Errorf("failed to create email gateway: %w", err)
	}
	smsGateway, err := newSMSGateway(ctx, cfg, &gatewayBreakers, logger)
	if err != nil {
		return fmt.Errorf("failed to create sms gateway: %w", err)
	}

	channels := channel.NewRegistry(
		channel.NewEmail(emailGateway, rate.NewLimiter(rate.Limit(cfg.EmailRatePerSec), cfg.EmailBurst), logger),
		channel.NewSMS(smsGateway, rate.NewLimiter(rate.Limit(cfg.SMSRatePerSec), cfg.SMSBurst), logger),
		channel.NewInApp(logger),
	)

	logger.Info("delivery channels ready",
		zap.String("email_gateway", cfg.EmailGateway),
		zap.String("sms_gateway", cfg.SMSGateway),
	)

	alerter, err := newAlerter(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create alerter: %w", err)
	}

	deliveryGate := gate.New(repo, logger, nil)
	backoff := retry.Backoff{Base: cfg.RetryBaseDelay, Max: cfg.RetryMaxDelay}

	coordinator := retry.New(repo, deliveryGate, channels, content.NewBuilder(repo, logger), alerter, retry.Config{
		Backoff:     backoff,
		BatchSize:   cfg.SweepBatchSize,
		Workers:     cfg.SweepWorkers,
		SendTimeout: cfg.SendTimeout,
		StaleAfter:  cfg.StaleAfter,
	}, logger)

	runner, err := retry.NewRunner(coordinator, cfg.SweepSchedule, cfg.SweepTimeout, logger)
	if err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sweep runner: %w", err)
	}
	defer runner.Stop()

	planner := reminder.New(repo, deliveryGate, reminder.Config{MaxRetries: cfg.MaxRetries}, logger)

	handler := api.NewHandler(logger, repo, planner, coordinator)
	var limiter api.Limiter
	if redisClient != nil {
		handler.WithIdempotency(redis.NewIdempotencyService(redisClient, logger))
		limiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimitPerMinute,
			Window: time.Minute,
		})
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(api.RequestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(limiter, logger, api.FirstKey(api.RecipientKeyFunc, api.IPKeyFunc)))
		handler.Mount(r)
	})

	r.Get("/health", healthHandler(database, redisClient, gatewayBreakers, logger))

	r.Handle("/metrics", metrics.Handler())

	go reportConnections(ctx, database, redisClient)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		// no new sweeps; the in-flight one finishes its sends
		runner.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

type healthResponse struct {
	Status   string                 `json:"status"`
	Postgres string                 `json:"postgres"`
	Redis    string                 `json:"redis"`
	Gateways []circuitbreaker.Stats `json:"gateways"`
}

// healthHandler fails only when Postgres is unreachable. Redis and open
// gateway circuits report "degraded" since sweeps and scheduling keep working.
func healthHandler(database *db.DB, redisClient *redis.Client, cbs breakers, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Postgres: "ok", Redis: "disabled", Gateways: cbs.stats()}
		code := http.StatusOK

		if err := database.Health(ctx); err != nil {
			logger.Warn("health check failed", zap.String("component", "postgres"), zap.Error(err))
			resp.Status, resp.Postgres = "down", "unreachable"
			code = http.StatusServiceUnavailable
		}
		if redisClient != nil {
			resp.Redis = "ok"
			if err := redisClient.Ping(ctx); err != nil {
				logger.Warn("health check degraded", zap.String("component", "redis"), zap.Error(err))
				resp.Redis = "unreachable"
				if code == http.StatusOK {
					resp.Status = "degraded"
				}
			}
		}
		for _, g := range resp.Gateways {
			if g.State != circuitbreaker.StateClosed.String() && code == http.StatusOK {
				resp.Status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// reportConnections feeds the pool gauges until ctx is done.
func reportConnections(ctx context.Context, database *db.DB, redisClient *redis.Client) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetDBConnections(database.TotalConns())
			if redisClient != nil {
				metrics.SetRedisConnections(redisClient.TotalConns())
			}
		}
	}
}
