package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/camellia-shop/api/internal/handlers"
	"github.com/camellia-shop/api/internal/notifications"
	"github.com/camellia-shop/api/internal/payments"
	"github.com/camellia-shop/api/internal/platform/auth"
	"github.com/camellia-shop/api/internal/platform/config"
	pfirestore "github.com/camellia-shop/api/internal/platform/firestore"
	"github.com/camellia-shop/api/internal/platform/observability"
	"github.com/camellia-shop/api/internal/services"

	firestoreRepo "github.com/camellia-shop/api/internal/repositories/firestore"
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

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	var dispatcher services.NotificationDispatcher
	if topicID := strings.TrimSpace(cfg.Notifications.TopicID); topicID != "" {
		notifyProject := strings.TrimSpace(cfg.Notifications.ProjectID)
		if notifyProject == "" {
			notifyProject = strings.TrimSpace(cfg.Firestore.ProjectID)
		}
		pubsubClient, err := pubsub.NewClient(ctx, notifyProject)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicID)
		defer topic.Stop()

		dispatcher, err = notifications.NewPubSubDispatcher(topic)
		if err != nil {
			logger.Fatal("failed to initialise notification dispatcher", zap.Error(err))
		}
	} else {
		logger.Warn("notification topic not configured; order notifications disabled")
	}

	var paymentProvider payments.Provider
	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    cfg.Stripe.APIKey,
			AccountID: cfg.Stripe.AccountID,
			Logger:    eventLogger(logger.Named("payments")),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
		}
		paymentManager, err := payments.NewManager(map[string]payments.Provider{
			"stripe": stripeProvider,
		}, "stripe")
		if err != nil {
			logger.Fatal("failed to initialise payment manager", zap.Error(err))
		}
		paymentProvider = paymentManager
	} else {
		logger.Warn("stripe api key not configured; online orders will be placed without a payment session")
	}

	pricer, err := services.NewCartPricer(services.CartPricerDeps{
		Catalog: registry.Catalog(),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart pricer", zap.Error(err))
	}

	couponEngine, err := services.NewCouponEngine(services.CouponEngineDeps{
		Coupons: registry.Coupons(),
		Usage:   registry.CouponUsage(),
		Clock:   time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise coupon engine", zap.Error(err))
	}

	couponService, err := services.NewCouponService(services.CouponServiceDeps{
		Engine:  couponEngine,
		Coupons: registry.Coupons(),
		Usage:   registry.CouponUsage(),
		Clock:   time.Now,
		Logger:  eventLogger(logger.Named("coupons")),
	})
	if err != nil {
		logger.Fatal("failed to initialise coupon service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Pricer:      pricer,
		Engine:      couponEngine,
		Orders:      registry.Orders(),
		Payments:    paymentProvider,
		Notifier:    dispatcher,
		AdminEmails: cfg.Notifications.AdminEmails,
		Checkout: services.CheckoutURLs{
			SuccessURL: cfg.Checkout.SuccessURL,
			CancelURL:  cfg.Checkout.CancelURL,
			Currency:   cfg.Checkout.Currency,
		},
		Clock:  time.Now,
		Logger: eventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	orderHandlers := handlers.NewOrderHandlers(orderService)
	couponHandlers := handlers.NewCouponHandlers(couponService, pricer)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthEnvironment(cfg.Environment),
		handlers.WithReadinessCheck("firestore", registry.Health().Ping),
	)

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithUserMiddlewares(authenticator.RequireAuth(auth.RoleUser, auth.RoleAdmin)),
		handlers.WithAdminMiddlewares(authenticator.RequireAuth(auth.RoleAdmin)),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithCouponRoutes(couponHandlers.Routes),
		handlers.WithAdminCouponRoutes(couponHandlers.AdminRoutes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("camellia-shop api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	if err := registry.Close(shutdownCtx); err != nil {
		logger.Warn("repository close error", zap.Error(err))
	}
}

// eventLogger adapts a zap logger to the callback-style logger the services
// and payment providers accept.
func eventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info("service event", zFields...)
	}
}
