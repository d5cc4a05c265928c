package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SigNoz/ecommerce-checkout/internal/api"
	"github.com/SigNoz/ecommerce-checkout/internal/cache"
	"github.com/SigNoz/ecommerce-checkout/internal/db"
	"github.com/SigNoz/ecommerce-checkout/internal/metrics"
	"github.com/SigNoz/ecommerce-checkout/internal/services"
	"github.com/SigNoz/ecommerce-checkout/internal/telemetry"
	"github.com/SigNoz/ecommerce-checkout/pkg/config"
	"github.com/gorilla/mux"
)

func main() {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appMetrics, meterProvider, err := metrics.InitMetrics(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down meter provider: %v", err)
		}
	}()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Printf("Error shutting down tracer provider: %v", err)
		}
	}()

	database, err := db.NewDB(cfg.DBDriver, cfg.GetDSN(), meterProvider, cfg.OTELServiceName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	productCache := newProductCache(ctx, cfg)

	carts := services.NewCartService(database, appMetrics)
	svc := api.Services{
		Users:      services.NewUserService(database, appMetrics),
		Categories: services.NewCategoryService(database, appMetrics),
		Products:   services.NewProductService(database, appMetrics, productCache, cfg.ProductCacheTTL),
		Carts:      carts,
		Orders:     services.NewOrderService(database, appMetrics, carts),
		Payments:   services.NewPaymentService(database, appMetrics),
	}

	go carts.MonitorActiveCarts(ctx, cfg.ActiveCartsInterval)

	app := api.NewApp(database, appMetrics, svc)
	router := mux.NewRouter()
	app.SetupRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s (db=%s)", cfg.AppPort, cfg.DBDriver)
		log.Printf("OTLP endpoint: %s", cfg.OTELExporterOTLPEndpoint)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server failed to start: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited")
}

// newProductCache uses Redis when REDIS_ADDR is set and reachable, else an in-process cache
func newProductCache(ctx context.Context, cfg *config.Config) cache.Cache {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryCache(cfg.OTELServiceName)
	}

	c := cache.NewRedisCache(cfg.RedisAddr, cfg.OTELServiceName)
	if err := cache.Ping(ctx, c); err != nil {
		log.Printf("Warning: redis at %s unavailable (%v), using in-process cache", cfg.RedisAddr, err)
		return cache.NewMemoryCache(cfg.OTELServiceName)
	}
	log.Printf("Product cache: redis at %s", cfg.RedisAddr)
	return c
}
