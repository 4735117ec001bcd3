package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/gateway"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.Load("gateway", "8080")

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry, cfg.ServiceName, "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	if cfg.Services.StorefrontURL == "" {
		logger.Error("STOREFRONT_SERVICE_URL is required")
		os.Exit(1)
	}

	if cfg.Services.InventoryURL == "" {
		logger.Error("INVENTORY_SERVICE_URL is required")
		os.Exit(1)
	}

	if cfg.Services.IdentityURL == "" {
		logger.Error("IDENTITY_SERVICE_URL is required")
		os.Exit(1)
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	storefrontProxy := gateway.NewServiceProxy(cfg.Services.StorefrontURL, httpClient)
	inventoryProxy := gateway.NewServiceProxy(cfg.Services.InventoryURL, httpClient)
	identity := gateway.NewIdentityClient(cfg.Services.IdentityURL, httpClient)
	handler := gateway.NewHandler(storefrontProxy, inventoryProxy, identity, logger)

	// status overrides, cancellation and restocks stay on the internal ports
	mux := http.NewServeMux()
	mux.HandleFunc("POST /checkout/preferences", telemetry.WithHTTPRoute(handler.HandleCustomer))
	mux.HandleFunc("POST /checkout/subscriptions", telemetry.WithHTTPRoute(handler.HandleCustomer))
	mux.HandleFunc("POST /checkout/orders/{id}/preference", telemetry.WithHTTPRoute(handler.HandleCustomer))
	mux.HandleFunc("POST /checkout/orders/{id}/capture", telemetry.WithHTTPRoute(handler.HandleCustomer))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(handler.HandleCustomer))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(handler.HandleCustomer))
	mux.HandleFunc("POST /webhooks/payments", telemetry.WithHTTPRoute(handler.HandleWebhook))
	mux.HandleFunc("GET /inventory/stock", telemetry.WithHTTPRoute(handler.HandleInventory))
	mux.HandleFunc("GET /inventory/stock/{productId}", telemetry.WithHTTPRoute(handler.HandleInventory))

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: otelhttp.NewHandler(gateway.StripIdentity(mux), cfg.ServiceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting gateway service", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
