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
	"go.opentelemetry.io/otel"

	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/checkout"
	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/database"
	"github.com/joao-fontenele/storefront/internal/inventory"
	"github.com/joao-fontenele/storefront/internal/lifecycle"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/paygateway"
	"github.com/joao-fontenele/storefront/internal/payments"
	"github.com/joao-fontenele/storefront/internal/pricing"
	"github.com/joao-fontenele/storefront/internal/subscriptions"
	"github.com/joao-fontenele/storefront/internal/telemetry"
	"github.com/joao-fontenele/storefront/internal/webhook"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.Load("storefront", "8081")

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry, cfg.ServiceName, "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg.Telemetry, cfg.ServiceName, "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	metrics, err := telemetry.NewMetrics(otel.Meter("storefront"))
	if err != nil {
		logger.Error("failed to create instruments", "error", err)
		os.Exit(1)
	}

	if cfg.Gateway.Token == "" {
		logger.Error("PAYMENT_GATEWAY_TOKEN is required")
		os.Exit(1)
	}
	if cfg.Checkout.NotificationURL == "" {
		logger.Warn("NOTIFICATION_URL not set, the gateway will not call back")
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	gatewayClient := paygateway.NewClient(cfg.Gateway, &http.Client{
		Timeout:   cfg.Gateway.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}, logger)

	catalogRepo := catalog.NewRepository(db)
	orderRepo := orders.NewRepository(db)
	paymentRepo := payments.NewRepository(db)
	subscriptionRepo := subscriptions.NewRepository(db)
	machine := lifecycle.NewMachine(db, metrics, logger, cfg.Database.QueryTimeout)

	checkoutService := checkout.NewService(checkout.Dependencies{
		Catalog:  catalogRepo,
		Stock:    inventory.NewLedger(db),
		Pricer:   pricing.NewEngine(catalogRepo),
		Orders:   orderRepo,
		Payments: paymentRepo,
		Gateway:  gatewayClient,
		Machine:  machine,
		Metrics:  metrics,
		Logger:   logger,
		Timeout:  cfg.Database.QueryTimeout,
	}, cfg.Checkout)

	reconciler := webhook.NewReconciler(webhook.Dependencies{
		Gateway:       gatewayClient,
		Orders:        orderRepo,
		Payments:      paymentRepo,
		Machine:       machine,
		Subscriptions: subscriptionRepo,
		Metrics:       metrics,
		Logger:        logger,
		Timeout:       cfg.Database.QueryTimeout,
	})

	checkoutHandler := checkout.NewHandler(checkoutService, logger)
	webhookHandler := webhook.NewHandler(reconciler, logger)
	orderHandler := orders.NewHandler(orderRepo, paymentRepo, machine, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /checkout/preferences", telemetry.WithHTTPRoute(checkoutHandler.HandleCreatePreference))
	mux.HandleFunc("POST /checkout/subscriptions", telemetry.WithHTTPRoute(checkoutHandler.HandleCreateSubscription))
	mux.HandleFunc("POST /checkout/orders/{id}/preference", telemetry.WithHTTPRoute(checkoutHandler.HandleRetryPreference))
	mux.HandleFunc("POST /checkout/orders/{id}/capture", telemetry.WithHTTPRoute(checkoutHandler.HandleCapture))
	mux.HandleFunc("POST /webhooks/payments", telemetry.WithHTTPRoute(webhookHandler.HandleNotification))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(orderHandler.HandleList))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleGet))
	mux.HandleFunc("PATCH /orders/{id}/status", telemetry.WithHTTPRoute(orderHandler.HandleUpdateStatus))
	mux.HandleFunc("DELETE /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleRetire))
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: otelhttp.NewHandler(mux, cfg.ServiceName,
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
		logger.Info("starting storefront service", "port", cfg.Server.Port)
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
