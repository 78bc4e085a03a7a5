package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/pricewatch/price-scraper/internal/api"
	"github.com/pricewatch/price-scraper/internal/browser"
	"github.com/pricewatch/price-scraper/internal/captcha"
	"github.com/pricewatch/price-scraper/internal/config"
	"github.com/pricewatch/price-scraper/internal/dimension"
	"github.com/pricewatch/price-scraper/internal/events"
	"github.com/pricewatch/price-scraper/internal/executor"
	"github.com/pricewatch/price-scraper/internal/jobs"
	"github.com/pricewatch/price-scraper/internal/runner"
	"github.com/pricewatch/price-scraper/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(ctx, store.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.DBName,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    10,
		MinConns:    2,
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	configStore := store.NewConfigStore(db, logger)
	countryRates := store.NewCountryRates(db, logger)
	packageStore := store.NewPackageStore(db)
	settings := store.NewSettings(db)

	var solver captcha.Solver
	apiKey := cfg.Captcha.APIKey
	if apiKey == "" {
		if v, err := settings.Get(ctx, "captcha_api_key"); err == nil {
			apiKey = v
		}
	}
	if apiKey != "" {
		solver = captcha.NewHTTPSolver(captcha.Options{
			APIKey:       apiKey,
			BaseURL:      cfg.Captcha.BaseURL,
			PollInterval: cfg.Captcha.PollInterval,
			Timeout:      cfg.Captcha.Timeout,
		}, logger)
	} else {
		logger.Warn("no captcha API key configured, captcha pages will fail the run")
	}

	browserOpts := browser.DefaultOptions()
	browserOpts.Headless = cfg.Browser.Headless
	browserOpts.Timeout = cfg.Browser.Timeout
	browserOpts.ViewportWidth = cfg.Browser.ViewportWidth
	browserOpts.ViewportHeight = cfg.Browser.ViewportHeight
	browserOpts.Locale = cfg.Browser.Locale
	browserOpts.TimezoneID = cfg.Browser.TimezoneID
	if len(cfg.Browser.UserAgents) > 0 {
		browserOpts.UserAgents = cfg.Browser.UserAgents
	}
	sessions := browser.NewManager(browserOpts, cfg.Browser.FailureThreshold, logger)

	execCfg := executor.Config{
		Resolver:     dimension.NewResolver(cfg.Runner.Precision),
		Humanizer:    executor.NewHumanPolicy(cfg.Runner.HumanizeMinDelay, cfg.Runner.HumanizeMaxDelay),
		Solver:       solver,
		SelectorWait: cfg.Runner.SelectorWait,
	}
	retry := runner.RetryPolicy{
		MaxRetries:        cfg.Runner.MaxRetries,
		BackoffBase:       cfg.Runner.BackoffBase,
		BackoffMultiplier: 2.0,
	}
	run := runner.New(sessions, execCfg, retry, logger)

	publisher := events.NewRedisPublisher(redisClient, events.RedisConfig{
		Retention: cfg.Runner.StatusRetention,
	}, logger)

	coordinator := jobs.NewCoordinator(configStore, countryRates, packageStore, run, publisher,
		jobs.Options{
			Workers:    cfg.Runner.Workers,
			RunTimeout: cfg.Runner.RunTimeout,
		}, logger)

	handlers := api.NewHandlers(coordinator, configStore, publisher, logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.WriteTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		health := map[string]interface{}{"status": "ok"}
		status := http.StatusOK
		if err := redisClient.Ping(r.Context()).Err(); err != nil {
			health["status"] = "degraded"
			health["message"] = "status transport unavailable"
			status = http.StatusServiceUnavailable
		}

		w.WriteHeader(status)
		json.NewEncoder(w).Encode(health)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/calculate", handlers.Calculate)
		r.Post("/calculate/shipping", handlers.CalculateShipping)

		r.Get("/configs", handlers.ListConfigs)
		r.Get("/configs/{domain}", handlers.GetConfig)
		r.Put("/configs/{domain}", handlers.PutConfig)

		r.Get("/status/{requestID}", handlers.GetStatus)
	})

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
