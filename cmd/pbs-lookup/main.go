// Package main provides the PBS lookup service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lukeslade/pbs-lookup-tool/internal/api/handlers"
	"github.com/lukeslade/pbs-lookup-tool/internal/api/middleware"
	"github.com/lukeslade/pbs-lookup-tool/internal/observability/metrics"
	"github.com/lukeslade/pbs-lookup-tool/internal/observability/tracing"
	"github.com/lukeslade/pbs-lookup-tool/internal/pbs"
	"github.com/lukeslade/pbs-lookup-tool/pkg/circuitbreaker"
)

// Config holds application configuration
type Config struct {
	Port            string
	BaseURL         string
	SubscriptionKey string
	Timeout         time.Duration
	OTLPEndpoint    string
}

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := loadConfig()

	// Tracing is optional; without an endpoint the global no-op provider
	// keeps the spans free.
	if cfg.OTLPEndpoint != "" {
		tcfg := tracing.DefaultConfig("pbs-lookup")
		tcfg.OTLPEndpoint = cfg.OTLPEndpoint
		provider, err := tracing.Init(context.Background(), tcfg)
		if err != nil {
			logger.Fatal("tracing init failed", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			provider.Shutdown(ctx)
		}()
	}

	m := metrics.New()

	// Lookup client against the PBS data API
	ccfg := pbs.DefaultClientConfig()
	if cfg.BaseURL != "" {
		ccfg.BaseURL = cfg.BaseURL
	}
	if cfg.SubscriptionKey != "" {
		ccfg.SubscriptionKey = cfg.SubscriptionKey
	}
	if cfg.Timeout > 0 {
		ccfg.Timeout = cfg.Timeout
	}
	client := pbs.NewClient(ccfg, logger, m)

	// Handlers
	itemHandler := handlers.NewItemHandler(client, logger, m)
	uiHandler, err := handlers.NewUIHandler(client, logger)
	if err != nil {
		logger.Fatal("ui handler init failed", zap.Error(err))
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("pbs-lookup"))

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(client, m))
	r.Handle("/metrics", metrics.Handler())

	r.Get("/", uiHandler.Index)

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/items", itemHandler.Routes())
		r.Post("/applications", itemHandler.CreateApplication)
		r.Get("/applications/download", itemHandler.DownloadApplication)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting pbs lookup service", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func loadConfig() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("PBS_TIMEOUT_SECONDS"); t != "" {
		if secs, err := strconv.Atoi(t); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	return Config{
		Port:            port,
		BaseURL:         os.Getenv("PBS_API_BASE_URL"),
		SubscriptionKey: os.Getenv("PBS_SUBSCRIPTION_KEY"),
		Timeout:         timeout,
		OTLPEndpoint:    os.Getenv("OTLP_ENDPOINT"),
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"pbs-lookup","version":"1.0.0"}`)
}

// readyHandler reports readiness from the upstream breakers and refreshes
// the breaker state gauge while it is at it.
func readyHandler(client *pbs.Client, m *metrics.Metrics) http.HandlerFunc {
	stateValue := map[circuitbreaker.State]float64{
		circuitbreaker.StateClosed:   0,
		circuitbreaker.StateOpen:     1,
		circuitbreaker.StateHalfOpen: 2,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		open := false
		for name, state := range client.BreakerStates() {
			m.BreakerState.WithLabelValues(name).Set(stateValue[state])
			if state == circuitbreaker.StateOpen {
				open = true
			}
		}

		if open {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	}
}
