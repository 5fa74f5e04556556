package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/evcharge/estimator-service/internal/cache"
	"github.com/evcharge/estimator-service/internal/calendar"
	"github.com/evcharge/estimator-service/internal/circuitbreaker"
	"github.com/evcharge/estimator-service/internal/client"
	"github.com/evcharge/estimator-service/internal/config"
	"github.com/evcharge/estimator-service/internal/estimator"
	"github.com/evcharge/estimator-service/internal/history"
	httphandler "github.com/evcharge/estimator-service/internal/http"
	"github.com/evcharge/estimator-service/internal/lifecycle"
	"github.com/evcharge/estimator-service/internal/observability"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	retry := client.RetryPolicy{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		MaxDelay:  cfg.RetryMaxDelay,
	}

	locationClient, err := client.NewLocationClient(cfg.LocationAPIURL, cfg.UpstreamTimeout, retry)
	if err != nil {
		logger.Fatal("location client", zap.Error(err))
	}
	solarClient, err := client.NewSolarClient(cfg.WeatherAPIURL, cfg.UpstreamTimeout, retry)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	holidayClient, err := client.NewHolidayClient(cfg.HolidayAPIURL, cfg.HolidayResourceID, cfg.HolidayRowLimit, cfg.HolidayTTL, cfg.UpstreamTimeout, retry)
	if err != nil {
		logger.Fatal("holiday client", zap.Error(err))
	}

	if cfg.BreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			MaxProbes:        cfg.BreakerMaxProbes,
			Timeout:          cfg.BreakerTimeout,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition("weather_api", from.String(), to.String())
				observability.SetCircuitBreakerStateGauge("weather_api", float64(to))
			},
		})
		solarClient.SetCircuitBreaker(cb)
		observability.SetCircuitBreakerStateGauge("weather_api", 0)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.BreakerFailureThreshold), zap.Duration("timeout", cfg.BreakerTimeout))
	}

	var solarCache cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.StaleCacheTTL)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		solarCache = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		solarCache = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	terms, err := calendar.LoadTerms(cfg.TermDatesPath)
	if err != nil {
		logger.Fatal("school term dates", zap.Error(err), zap.String("path", cfg.TermDatesPath))
	}
	termsCtx, termsCancel := context.WithCancel(context.Background())
	defer termsCancel()
	go func() {
		if err := terms.Watch(termsCtx, logger); err != nil && err != context.Canceled {
			logger.Warn("term dates watcher stopped", zap.Error(err))
		}
	}()

	est := estimator.New(locationClient, solarClient, holidayClient, solarCache, terms, cfg.CacheTTL, cfg.StaleCacheTTL, cfg.CoalesceEnabled, cfg.CoalesceTimeout)

	var histStore *history.Store
	if cfg.HistoryEnabled {
		histStore, err = history.Open(cfg.HistoryPath)
		if err != nil {
			logger.Fatal("history store", zap.Error(err), zap.String("path", cfg.HistoryPath))
		}
		logger.Info("estimate history enabled", zap.String("path", cfg.HistoryPath))
	}

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		RateLimitBurst:         cfg.RateLimitBurst,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
		StartTime:              time.Now(),
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(est, locationClient, histStore, healthConfig, logger, limiter)

	observability.RegisterRateLimitGauges(cfg.OverloadWindow)

	if cfg.WarmCache && len(cfg.TrackedLocations) > 0 {
		warmer := cache.NewWarmer(est, logger)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := warmer.Warm(warmCtx, cfg.TrackedLocations); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if err := holidayClient.Refresh(context.Background()); err != nil {
			logger.Warn("holiday snapshot warm failed", zap.Error(err))
		}
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(context.Background(), cfg.TrackedLocations, cfg.WarmInterval); err != nil && err != context.Canceled {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.Use(httphandler.InFlightMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(httphandler.RateLimitMiddleware(limiter))
	apiRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	apiRouter.HandleFunc("/estimate", handler.PostEstimate).Methods("POST")
	apiRouter.HandleFunc("/duration", handler.PostDuration).Methods("POST")
	apiRouter.HandleFunc("/locations/{postcode}", handler.GetLocations).Methods("GET")
	apiRouter.HandleFunc("/history", handler.GetHistory).Methods("GET")

	if cfg.TestingMode {
		logger.Warn("Testing mode enabled; /test endpoint exposed")
		router.HandleFunc("/test", handler.GetTestStatus).Methods("GET")
		router.HandleFunc("/test/{action}", handler.PostTestAction).Methods("POST")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if histStore != nil {
		if err := histStore.Close(); err != nil {
			logger.Error("history close", zap.Error(err))
		}
	}
	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
