package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/maisonverte/api/internal/handlers"
	"github.com/maisonverte/api/internal/payments"
	"github.com/maisonverte/api/internal/platform/auth"
	"github.com/maisonverte/api/internal/platform/config"
	pfirestore "github.com/maisonverte/api/internal/platform/firestore"
	"github.com/maisonverte/api/internal/platform/idempotency"
	"github.com/maisonverte/api/internal/platform/jobs"
	"github.com/maisonverte/api/internal/platform/observability"
	"github.com/maisonverte/api/internal/platform/secrets"
	firestoreRepo "github.com/maisonverte/api/internal/repositories/firestore"
	"github.com/maisonverte/api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	unitOfWork, err := pfirestore.NewUnitOfWork(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise unit of work", zap.Error(err))
	}

	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	variantRepo, err := firestoreRepo.NewVariantRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise variant repository", zap.Error(err))
	}
	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise counter repository", zap.Error(err))
	}
	notificationRepo, err := firestoreRepo.NewNotificationRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise notification repository", zap.Error(err))
	}

	var pubsubClient *pubsub.Client
	var emailPublisher services.EmailPublisher
	if topicID := strings.TrimSpace(cfg.Notifications.EmailTopic); topicID != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Notifications.PubSubProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		publisher, err := jobs.NewPubSubEmailPublisher(pubsubClient.Topic(topicID))
		if err != nil {
			logger.Fatal("failed to initialise email publisher", zap.Error(err))
		}
		emailPublisher = publisher
	} else {
		logger.Warn("notifications: email topic not configured; emails disabled")
	}
	defer func() {
		if pubsubClient != nil {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}
	}()

	notificationService, err := services.NewNotificationService(services.NotificationServiceDeps{
		Notifications: notificationRepo,
		Emails:        emailPublisher,
		AdminEmail:    cfg.Notifications.AdminEmail,
		SenderEmail:   cfg.Notifications.SenderEmail,
		Clock:         time.Now,
		Logger:        serviceLogger(logger.Named("notifications")),
	})
	if err != nil {
		logger.Fatal("failed to initialise notification service", zap.Error(err))
	}

	inventoryService, err := services.NewInventoryService(services.InventoryServiceDeps{
		Variants: variantRepo,
		Clock:    time.Now,
		Logger:   serviceLogger(logger.Named("inventory")),
	})
	if err != nil {
		logger.Fatal("failed to initialise inventory service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        orderRepo,
		Variants:      variantRepo,
		Products:      productRepo,
		Counters:      counterRepo,
		UnitOfWork:    unitOfWork,
		Notifier:      notificationService,
		PaymentWindow: cfg.Orders.PaymentWindow,
		Clock:         time.Now,
		Logger:        serviceLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	if strings.TrimSpace(cfg.Gateway.StripeAPIKey) == "" {
		logger.Fatal("stripe api key is required")
	}
	gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey:   cfg.Gateway.StripeAPIKey,
		Currency: cfg.Gateway.Currency,
		Timeout:  cfg.Gateway.Timeout,
		Logger:   serviceLogger(logger.Named("payments")),
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:    orderRepo,
		Workflow:  orderService,
		Gateway:   gateway,
		ReturnURL: cfg.Gateway.ReturnURL,
		CancelURL: cfg.Gateway.CancelURL,
		Clock:     time.Now,
		Logger:    serviceLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	expirationService, err := services.NewExpirationService(services.ExpirationServiceDeps{
		Orders:    orderRepo,
		Workflow:  orderService,
		BatchSize: cfg.Orders.SweepBatchSize,
		Clock:     time.Now,
		Logger:    serviceLogger(logger.Named("expiration")),
	})
	if err != nil {
		logger.Fatal("failed to initialise expiration service", zap.Error(err))
	}

	idempotencyStore, err := idempotency.NewFirestoreStore(firestoreClient)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithLogger(serviceLogger(logger.Named("idempotency"))),
	)

	webhookMiddleware := buildWebhookMiddleware(logger.Named("auth"), cfg.Webhooks)
	if webhookMiddleware == nil {
		logger.Warn("webhooks: signing secrets not configured; payment callbacks will be rejected")
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithReadinessCheck("firestore", func(ctx context.Context) error {
			iter := firestoreClient.Collections(ctx)
			_, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		}),
	)

	orderHandlers := handlers.NewOrderHandlers(orderService, checkoutService,
		handlers.WithCreateOrderMiddleware(idempotencyMiddleware),
	)
	adminOrderHandlers := handlers.NewAdminOrderHandlers(orderService)
	adminExpirationHandlers := handlers.NewAdminExpirationHandlers(expirationService)
	adminVariantHandlers := handlers.NewAdminVariantHandlers(inventoryService)
	notificationHandlers := handlers.NewNotificationHandlers(notificationService)
	webhookHandlers := handlers.NewWebhookHandlers(checkoutService)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(func(r chi.Router) {
			r.Route("/orders", adminOrderHandlers.Routes)
			r.Route("/variants", adminVariantHandlers.Routes)
			r.Route("/notifications", notificationHandlers.Routes)
			r.Route("/expiration", adminExpirationHandlers.Routes)
		}),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	}
	if webhookMiddleware != nil {
		opts = append(opts, handlers.WithWebhookMiddlewares(webhookMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup
	sweepTicker := time.NewTicker(cfg.Orders.SweepInterval)
	sweepWG.Add(1)
	go func() {
		defer sweepWG.Done()
		sweepLogger := logger.Named("expiration")
		for {
			select {
			case <-sweepTicker.C:
				runCtx, cancel := context.WithTimeout(sweepCtx, 5*time.Minute)
				result, err := expirationService.Sweep(runCtx)
				cancel()
				if err != nil {
					sweepLogger.Error("expiration sweep error", zap.Error(err))
					continue
				}
				if result.Scanned > 0 {
					sweepLogger.Info("expiration sweep completed",
						zap.Int("scanned", result.Scanned),
						zap.Int("cancelled", result.Cancelled),
						zap.Int("skipped", result.Skipped),
						zap.Int("failed", result.Failed),
					)
				}
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("maison verte api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	sweepTicker.Stop()
	sweepCancel()
	sweepWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// serviceLogger adapts a zap logger to the map-based logging contract the
// services use.
func serviceLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info("service event", zFields...)
	}
}

func buildWebhookMiddleware(logger *zap.Logger, cfg config.WebhookConfig) func(http.Handler) http.Handler {
	signingSecrets := make([]string, 0, len(cfg.Secrets))
	for _, value := range cfg.Secrets {
		if strings.TrimSpace(value) != "" {
			signingSecrets = append(signingSecrets, value)
		}
	}
	if len(signingSecrets) == 0 {
		return nil
	}

	verifier, err := auth.NewWebhookVerifier(signingSecrets, auth.NewInMemoryNonceStore(),
		auth.WithVerifierLogger(serviceLogger(logger)),
		auth.WithVerifierHeaders(cfg.SignatureHeader, cfg.TimestampHeader, cfg.NonceHeader),
		auth.WithVerifierClockSkew(cfg.ClockSkew),
		auth.WithVerifierNonceTTL(cfg.NonceTTL),
	)
	if err != nil {
		logger.Error("failed to build webhook verifier", zap.Error(err))
		return nil
	}
	return verifier.Middleware()
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(os.Getenv(key))
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}

	return secrets.NewFetcher(ctx, opts...)
}
