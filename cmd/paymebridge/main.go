package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"paymebridge/config"
	"paymebridge/events"
	"paymebridge/gateway/middleware"
	"paymebridge/gateway/routes"
	"paymebridge/observability/logging"
	telemetry "paymebridge/observability/otel"
	"paymebridge/orders"
	"paymebridge/payme"
	"paymebridge/rpc"
	"paymebridge/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to bridge configuration (.yaml or .toml)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	opts := []logging.Option{logging.WithLevel(cfg.Logging.Level)}
	if strings.TrimSpace(cfg.Logging.File) != "" {
		opts = append(opts, logging.WithRotation(logging.RotateConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		}))
	}
	logger := logging.Setup(cfg.Service, cfg.Env, opts...)

	if err := run(cfg, logger); err != nil {
		logger.Error("paymebridge stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.Service,
		Environment: cfg.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	db, err := storage.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open transaction store: %w", err)
	}
	defer db.Close()

	machine := payme.NewMachine(payme.NewKVStore(db),
		payme.WithLogger(logger),
		payme.WithMinAmount(cfg.Payme.MinAmount),
		payme.WithCurrency(cfg.Payme.Currency),
		payme.WithReceipt(cfg.Payme.Receipt.Template()),
	)

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return fmt.Errorf("create %s publisher: %w", cfg.Publisher.Driver, err)
	}
	defer publisher.Close()

	queue := events.NewDispatcher(publisher,
		events.WithCapacity(cfg.Publisher.QueueCapacity),
		events.WithPublishTimeout(cfg.Publisher.PublishTimeout.Duration),
		events.WithLogger(logger),
	)
	queue.Start()

	topic := events.Topic(cfg.Publisher.TopicPrefix, cfg.MerchantID)
	auth := rpc.NewAuthenticator(rpc.AuthConfig{
		Key:      cfg.Payme.Key,
		TestKey:  cfg.Payme.TestKey,
		TestMode: cfg.Payme.TestMode,
		AllowAny: cfg.Payme.DebugAllowAny,
	}, logger)
	if !auth.Enabled() {
		logger.Warn("webhook authentication disabled, every caller is accepted", "env", "DEBUG_ALLOW_ANY")
	}
	handlerOpts := []rpc.HandlerOption{rpc.WithHandlerLogger(logger)}
	if cfg.Store.Audit {
		if audit, ok := db.(*storage.SQLiteDB); ok {
			handlerOpts = append(handlerOpts, rpc.WithAudit(audit))
		}
	}
	webhook := rpc.NewHandler(auth, rpc.NewDispatcher(machine, queue, topic, logger), handlerOpts...)

	routeCfg := routes.Config{
		MerchantID:     cfg.MerchantID,
		TestMode:       cfg.Payme.TestMode,
		TopicPrefix:    cfg.Publisher.TopicPrefix,
		DebugEndpoints: cfg.Admin.DebugEndpoints,
		Webhook:        webhook,
		Transactions:   machine,
		Queue:          queue,
		Publisher:      routes.PublisherInfo{Driver: cfg.Publisher.Driver, Status: publisher},
		AdminAuth: middleware.NewAdminAuth(middleware.AdminAuthConfig{
			HMACSecret: cfg.Admin.JWTSecret,
			Issuer:     cfg.Admin.Issuer,
			Audience:   cfg.Admin.Audience,
		}, logger),
		RateLimiter:   middleware.NewRateLimiter(rateLimits(cfg.RateLimits), logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: cfg.Service}, logger),
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		Logger:        logger,
	}

	if cfg.Orders.Enabled {
		ordersDB, err := orders.Open(cfg.Orders.Driver, cfg.Orders.DSN)
		if err != nil {
			return fmt.Errorf("open orders database: %w", err)
		}
		if sqlDB, err := ordersDB.DB(); err == nil {
			defer sqlDB.Close()
		}
		catalog := orders.NewCatalog(ordersDB)
		routeCfg.Catalog = catalog
		routeCfg.Orders = orders.NewBook(ordersDB, catalog, queue, orders.BookConfig{
			MerchantID:   cfg.MerchantID,
			CheckoutBase: cfg.Orders.CheckoutBase,
			AccountField: cfg.Orders.AccountField,
			Topic:        topic,
		}, logger)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           otelhttp.NewHandler(routes.New(routeCfg), cfg.Service),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("paymebridge listening",
			"addr", cfg.Listen,
			"merchant_id", cfg.MerchantID,
			"test_mode", cfg.Payme.TestMode,
			"publisher", cfg.Publisher.Driver,
			"topic", topic,
			"store", cfg.Store.Driver,
			"orders", cfg.Orders.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := queue.Close(shutdownCtx); err != nil {
		logger.Warn("event queue shutdown", "error", err)
	}
	return nil
}
