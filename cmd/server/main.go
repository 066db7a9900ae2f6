// Package main is the entry point for the wallet API server.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fxwallet/internal/config"
	"fxwallet/internal/handlers"
	"fxwallet/internal/middleware"
	"fxwallet/internal/providers"
	"fxwallet/internal/providers/paypal"
	"fxwallet/internal/providers/paystack"
	"fxwallet/internal/providers/stripe"
	"fxwallet/internal/repositories"
	"fxwallet/internal/repositories/cache"
	"fxwallet/internal/routes"
	"fxwallet/internal/services/conversion"
	"fxwallet/internal/services/notification"
	"fxwallet/internal/services/reconciliation"
	"fxwallet/internal/services/topup"
	"fxwallet/internal/services/transfer"
	"fxwallet/internal/services/wallet"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := newLogger(cfg)
	defer logger.Sync()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET must be set")
	}

	db, err := repositories.OpenPostgres(cfg.Database)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	if err := repositories.Migrate(db); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("database handle", zap.Error(err))
	}
	defer sqlDB.Close()
	store := repositories.NewStore(db)

	redisClient := cache.NewRedisClient(cfg.Redis)
	cacheService := cache.NewCacheService(redisClient, time.Hour)
	defer cacheService.Close()
	if err := cacheService.HealthCheck(context.Background()); err != nil {
		logger.Warn("redis unreachable, caches will miss", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := wallet.NewPrometheusMetrics(reg)

	var publisher notification.Publisher = notification.NewLogPublisher(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = notification.NewKafkaPublisher(notification.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger))
	}
	notifier := notification.NewService(publisher, logger)
	defer notifier.Close()

	rails := newRails(cfg.Providers, logger)
	wallets := wallet.NewService(store, metrics, logger)
	recon := reconciliation.NewService(wallets, rails.registry, rails.capture, cfg.Providers.Timeout, notifier, metrics, logger)
	transfers := transfer.NewService(wallets, transfer.Options{
		Payouts:         rails.payouts,
		Accounts:        cache.NewAccountCache(cacheService, cfg.AccountCacheTTL),
		Reconciler:      recon,
		ProviderTimeout: cfg.Providers.Timeout,
		Notifier:        notifier,
		Metrics:         metrics,
		Logger:          logger,
	})
	rates := conversion.NewHTTPRateSource(
		cfg.Conversion.RateSourceURL,
		cfg.Providers.Timeout,
		cache.NewRateCache(cacheService, cfg.Conversion.RateCacheTTL),
		logger,
	)
	conversions := conversion.NewService(wallets, rates, cfg.Conversion, notifier, metrics, logger)
	topups := topup.NewService(store, rails.checkouts, recon, cfg.Providers.Timeout, metrics, logger)

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	app.Use("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
			})
		},
	}))

	routes.SetupRoutes(app, routes.Handlers{
		Auth:       middleware.NewAuthMiddleware(cfg.JWTSecret, logger),
		Wallet:     handlers.NewWalletHandler(wallets),
		Transfer:   handlers.NewTransferHandler(transfers),
		Conversion: handlers.NewConversionHandler(conversions),
		TopUp:      handlers.NewTopUpHandler(topups, recon),
		Webhook:    handlers.NewWebhookHandler(recon, logger),
		Health:     handlers.NewHealthHandler(db, cacheService),
		Gatherer:   reg,
	})

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		if err := app.ShutdownWithTimeout(cfg.RequestTimeout); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("port", cfg.Port), zap.Strings("webhooks", rails.registry.Providers()))
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

type rails struct {
	registry  *providers.Registry
	checkouts []providers.CheckoutGateway
	payouts   []providers.PayoutGateway
	capture   providers.CaptureGateway
}

// newRails builds a client for every rail whose credentials are set.
func newRails(cfg config.ProvidersConfig, logger *zap.Logger) rails {
	var (
		r     rails
		hooks []providers.Webhook
	)
	httpClient := &http.Client{Timeout: cfg.Timeout}

	if cfg.StripeSecretKey != "" {
		r.checkouts = append(r.checkouts, stripe.NewGateway(stripe.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			SuccessURL:    cfg.StripeSuccessURL,
			CancelURL:     cfg.StripeCancelURL,
			HTTPClient:    httpClient,
		}, logger))
		hooks = append(hooks, stripe.NewWebhook(cfg.StripeWebhookSecret))
	} else {
		logger.Warn("stripe disabled: STRIPE_SECRET_KEY not set")
	}

	if cfg.PaystackSecretKey != "" {
		client := paystack.NewClient(paystack.Config{
			SecretKey:   cfg.PaystackSecretKey,
			BaseURL:     cfg.PaystackBaseURL,
			CallbackURL: cfg.PaystackCallbackURL,
			HTTPClient:  httpClient,
		}, logger)
		r.checkouts = append(r.checkouts, client)
		r.payouts = append(r.payouts, client)
		hooks = append(hooks, paystack.NewWebhook(cfg.PaystackSecretKey))
	} else {
		logger.Warn("paystack disabled: PAYSTACK_SECRET_KEY not set")
	}

	if cfg.PaypalClientID != "" {
		client := paypal.NewClient(paypal.Config{
			ClientID:     cfg.PaypalClientID,
			ClientSecret: cfg.PaypalClientSecret,
			BaseURL:      cfg.PaypalBaseURL,
			ReturnURL:    cfg.PaypalReturnURL,
			CancelURL:    cfg.PaypalCancelURL,
			HTTPClient:   httpClient,
		}, logger)
		r.checkouts = append(r.checkouts, client)
		r.capture = client
	} else {
		logger.Warn("paypal disabled: PAYPAL_CLIENT_ID not set")
	}

	r.registry = providers.NewRegistry(hooks...)
	return r
}
