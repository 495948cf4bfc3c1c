package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/deadletter"
	"storefront/internal/ledger"
	"storefront/internal/payments"
	"storefront/internal/repositories"
	"storefront/internal/services"
	"storefront/pkg/rabbitmq"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Runtime owns the connections behind a running storefront.
type Runtime struct {
	Config   *config.Config
	DB       *gorm.DB
	Deps     Dependencies
	MQ       *rabbitmq.Client // nil without RABBITMQ_URL
	Replayer *deadletter.Replayer

	memoryDLQ *deadletter.MemoryQueue // set when dead letters stay in process
	closers   []func() error
}

// Build connects every configured backing service and wires the services.
// Optional services (RabbitMQ, Redis, Mongo) are only dialed when configured.
func Build(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	rt := &Runtime{Config: cfg}
	checks := map[string]HealthCheck{}

	gateway, err := payments.New(cfg)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	rt.DB = db
	rt.closers = append(rt.closers, func() error { return database.Close(db) })
	checks["database"] = func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}

	orderRepo, err := rt.orderRepository(ctx, checks)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var (
		publisher services.EventPublisher
		dlq       deadletter.Queue
	)
	if cfg.RabbitMQURL != "" {
		mq, err := rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL})
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.MQ = mq
		rt.closers = append(rt.closers, mq.Close)
		publisher = mq
		dlq = deadletter.NewRabbitQueue(mq)
	} else {
		slog.Warn("RABBITMQ_URL not set: order events are not published and dead letters are kept in memory")
		rt.memoryDLQ = deadletter.NewMemoryQueue()
		dlq = rt.memoryDLQ
	}

	var l ledger.Ledger = ledger.NewMemoryLedger(ledger.DefaultTTL)
	if cfg.RedisAddr != "" {
		rdb, err := ledger.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, rdb.Close)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		l = ledger.NewRedisLedger(rdb, ledger.DefaultTTL)
	}

	orders := services.NewOrderService(orderRepo, publisher)
	webhooks := services.NewWebhookService(gateway, orders, l, dlq)
	rt.Replayer = deadletter.NewReplayer(webhooks, dlq, cfg.DeadLetterMaxAttempts)
	rt.Deps = Dependencies{
		Orders:         orders,
		Checkout:       services.NewCheckoutService(orders, gateway),
		Webhooks:       webhooks,
		Products:       services.NewProductService(repositories.NewCatalogRepository(nil)),
		Auth:           services.NewAuthService(repositories.NewGORMUserRepository(db), cfg.JWTSecret, cfg.JWTExpiresIn),
		Gateway:        gateway,
		AllowedOrigins: cfg.AllowedOrigins,
		AccessLog:      true,
		HealthChecks:   checks,
	}
	if rt.memoryDLQ != nil {
		rt.Deps.DeadLetters = rt.memoryDLQ.Len
	}

	slog.Info("storefront runtime ready",
		"gateway", gateway.Provider(),
		"db_driver", cfg.DBDriver,
		"order_store", cfg.OrderStore,
		"rabbitmq", rt.MQ != nil,
		"redis_ledger", cfg.RedisAddr != "",
	)
	return rt, nil
}

func (rt *Runtime) orderRepository(ctx context.Context, checks map[string]HealthCheck) (repositories.OrderRepository, error) {
	if rt.Config.OrderStore != "mongo" {
		return repositories.NewGORMOrderRepository(rt.DB), nil
	}

	client, err := database.ConnectMongo(ctx, rt.Config.MongoURI)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() error { return client.Disconnect(context.Background()) })
	checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }

	repo, err := repositories.NewMongoOrderRepository(ctx, client.Database(rt.Config.MongoDB).Collection(database.OrdersCollection))
	if err != nil {
		return nil, fmt.Errorf("mongo order repository: %w", err)
	}
	return repo, nil
}

// App builds the HTTP application for this runtime.
func (rt *Runtime) App() *fiber.App {
	return NewApp(rt.Deps)
}

// StartBackground starts the RabbitMQ order-event consumer, when a broker is
// configured, and the periodic dead-letter replay. Both stop when ctx is
// cancelled or the connection closes.
func (rt *Runtime) StartBackground(ctx context.Context) error {
	if rt.MQ != nil {
		if err := rt.MQ.Consume(rabbitmq.OrderEventsQueue, logOrderEvent); err != nil {
			return err
		}
	}

	interval := rt.Config.DeadLetterReplayInterval
	if interval <= 0 {
		return nil
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := rt.ReplayDeadLetters(ctx); err != nil {
					slog.Error("dead-letter replay failed", "processed", n, "error", err)
				} else if n > 0 {
					slog.Info("dead-letter replay finished", "processed", n)
				}
			}
		}
	}()
	return nil
}

// ReplayDeadLetters runs one replay pass over the dead-letter queue, the
// broker's when configured and the in-memory one otherwise.
func (rt *Runtime) ReplayDeadLetters(ctx context.Context) (int, error) {
	switch {
	case rt.MQ != nil:
		return rt.MQ.Drain(rabbitmq.DeadLetterQueue, rt.Replayer.HandleDelivery(ctx))
	case rt.memoryDLQ != nil:
		return rt.Replayer.ReplayMemory(ctx, rt.memoryDLQ)
	default:
		return 0, errors.New("no dead-letter queue configured")
	}
}

// Close releases every connection in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			slog.Warn("error during shutdown", "error", err)
		}
	}
	rt.closers = nil
}
