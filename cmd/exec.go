package cmd

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"

	"ticket-payments/config"
	"ticket-payments/internal/events"
	"ticket-payments/internal/gateway"
	"ticket-payments/internal/handlers"
	"ticket-payments/internal/services"
	"ticket-payments/internal/store"
	"ticket-payments/monitoring"
	"ticket-payments/security"
	"ticket-payments/utils"
)

const reconcileBatch = 50

func Start() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env file", "error", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	for _, w := range cfg.Warnings() {
		slog.Warn("configuration", "warning", w)
	}

	app := pocketbase.New()
	gw := gateway.New(cfg.Gateway(), gateway.WithLogger(slog.Default()))

	app.RootCmd.AddCommand(
		newBanksCommand(gw),
		newResolveAccountCommand(gw),
		newHashKeyCommand(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		logger := e.App.Logger()

		redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}

		st := store.New(redisClient)
		pub := newPublisher(cfg, logger)

		payments := services.NewPaymentService(gw, st, gateway.NewWebhookVerifier(cfg.GatewayWebhookSecret, logger), pub, logger)
		refunds := services.NewRefundService(gw, st, pub, cfg.IdempotencyTTL, logger)
		withdrawals := services.NewWithdrawalService(gw, st, pub, cfg.IdempotencyTTL, logger)
		accounts := services.NewAccountService(gw, st, logger)
		banks := services.NewBankService(gw, st, cfg.BankListTTL, logger)

		reconciler := services.NewReconciler(st, payments, withdrawals, cfg.ReconcileSchedule, reconcileBatch, logger)
		if err := reconciler.Start(); err != nil {
			logger.Error("failed to schedule reconciliation", "schedule", cfg.ReconcileSchedule, "error", err)
		}

		if cfg.EnableMetrics {
			go func() {
				if err := monitoring.Serve(ctx, ":"+cfg.MetricsPort); err != nil {
					logger.Error("metrics listener stopped", "error", err)
				}
			}()
		}

		handlers.Routes{
			Payments:    handlers.NewPaymentHandler(payments, refunds, logger),
			Withdrawals: handlers.NewWithdrawalHandler(withdrawals, gw, logger),
			Admin:       handlers.NewAdminHandler(accounts, banks, logger),
			RateLimit:   security.NewRateLimiter(redisClient, cfg.RateLimitPerMinute, logger).Middleware(),
			AntiBot:     security.AntiBotMiddleware(),
			Operator:    security.NewOperatorAuth(cfg.OperatorKeyHash).Middleware(),
		}.Register(e.Router)

		e.Router.GET("/health", healthHandler(redisClient))

		app.OnTerminate().BindFunc(func(te *core.TerminateEvent) error {
			cancel()
			<-reconciler.Stop().Done()
			if err := pub.Close(); err != nil {
				logger.Warn("closing event publishers", "error", err)
			}
			if err := redisClient.Close(); err != nil {
				logger.Warn("closing redis", "error", err)
			}
			return te.Next()
		})

		logger.Info("payment routes registered", "environment", cfg.Environment)
		return e.Next()
	})

	return app.Start()
}

// newPublisher fans out to every configured broker. Brokers that cannot be
// reached at startup are skipped.
func newPublisher(cfg *config.Config, logger *slog.Logger) events.Publisher {
	var pubs events.Multi

	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		pubs = append(pubs, events.NewPubNubPublisher(events.PubNubConfig{
			PublishKey:   cfg.PubNubPublishKey,
			SubscribeKey: cfg.PubNubSubscribeKey,
			SecretKey:    cfg.PubNubSecretKey,
			UserID:       cfg.PubNubUserID,
		}))
	}

	if cfg.RabbitMQURL != "" {
		rmq, err := events.NewRabbitPublisher(cfg.RabbitMQURL, cfg.EventsExchange, logger)
		if err != nil {
			logger.Warn("rabbitmq unavailable; events will not reach backend consumers", "error", err)
		} else {
			pubs = append(pubs, rmq)
		}
	}

	if len(pubs) == 0 {
		logger.Warn("no event broker configured; payment events are dropped")
		return events.Noop{Logger: logger}
	}
	return pubs
}

func healthHandler(redisClient *redis.Client) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if err := utils.RedisHealthCheck(e.Request.Context(), redisClient); err != nil {
			return e.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	}
}
