package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"sandboxnotify/internal/config"
	"sandboxnotify/internal/constants"
	"sandboxnotify/internal/delivery"
	"sandboxnotify/internal/idempotency"
	"sandboxnotify/internal/logger"
	"sandboxnotify/internal/notification"
	"sandboxnotify/internal/ownership"
	"sandboxnotify/internal/secrets"
	"sandboxnotify/pkg/bootstrap"
	"sandboxnotify/pkg/circuitbreaker"
	"sandboxnotify/pkg/clock"
	"sandboxnotify/pkg/health"
	"sandboxnotify/pkg/logging"
	"sandboxnotify/pkg/metrics"
	"sandboxnotify/pkg/middleware"
	"sandboxnotify/pkg/ratelimit"
	"sandboxnotify/pkg/tracing"
)

const cacheSizeInterval = 30 * time.Second

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	postgres       *sql.DB
	mongoClient    *mongo.Client
	mongoDB        *mongo.Database
	secrets        *secrets.Cache
	guard          *idempotency.Guard
	handler        *notification.Handler
	admin          *adminHandler
	tracerProvider *tracing.TracerProvider
	server         *http.Server
	stopAdmin      chan struct{}
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		admin:       &adminHandler{health: health.NewCheckerRegistry()},
		stopAdmin:   make(chan struct{}),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(ctx, a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterNotificationMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterCircuitBreakerMetrics()
	metrics.RegisterDatabaseMetrics()
	metrics.RegisterAdminMetrics()

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	secretCache, err := secrets.NewFromConfig(a.Config.Secrets)
	if err != nil {
		return fmt.Errorf("failed to initialize secrets: %w", err)
	}
	a.secrets = secretCache

	orchestrator, err := a.initOrchestrator()
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	a.handler = notification.NewHandler(orchestrator, a.Config.Consumer, a.Logger)

	if err := a.InitBroker(constants.ServiceName, notification.Dispose); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.initHTTPServer()
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb
	a.admin.health.Register(health.NewRedisChecker(rdb))

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.postgres = db
	if db != nil {
		a.admin.health.Register(health.NewPostgreSQLChecker(db))
	}

	if a.Config.Ownership.Store == constants.StoreMongoDB {
		client, mdb, err := a.dbConnector.InitMongoDB(ctx)
		if err != nil {
			return err
		}
		a.mongoClient = client
		a.mongoDB = mdb
		if client != nil {
			a.admin.health.Register(health.NewMongoDBChecker(client))
		}
	}
	return nil
}

func (a *App) ownershipStore() (ownership.Store, error) {
	switch a.Config.Ownership.Store {
	case constants.StoreMongoDB:
		if a.mongoDB == nil {
			return nil, fmt.Errorf("ownership store is mongodb but database.mongodb.uri is not set")
		}
		return ownership.NewMongoStore(a.mongoDB), nil
	default:
		if a.postgres == nil {
			return nil, fmt.Errorf("ownership store is postgres but database.postgres.host is not set")
		}
		return ownership.NewPostgresStore(a.postgres), nil
	}
}

func (a *App) initOrchestrator() (*notification.Orchestrator, error) {
	initCtx := logging.WithServiceName(context.Background(), constants.ServiceName)

	store, err := a.ownershipStore()
	if err != nil {
		return nil, err
	}
	if a.Config.CircuitBreaker.Enabled {
		guarded := ownership.NewCircuitBreakerStore(store,
			circuitbreaker.ConfigFromSettings("ownership-"+a.Config.Ownership.Store, a.Config.CircuitBreaker))
		store = guarded
		a.admin.stores = append(a.admin.stores, storeGuard{
			name:  guarded.Breaker().Name(),
			state: func() string { return guarded.Breaker().State().String() },
		})
		a.Logger.InfowCtx(initCtx, "Circuit breaker enabled for ownership store")
	}

	var verifierOpts []ownership.Option
	if a.Config.Ownership.AuditLog && a.postgres != nil {
		verifierOpts = append(verifierOpts, ownership.WithAuditSink(ownership.NewAuditLogger(a.postgres)))
	}
	verifier := ownership.NewVerifier(store, a.secrets, a.Config.Ownership, a.Logger, verifierOpts...)

	repo := idempotency.NewCircuitBreakerRepository(idempotency.NewRepository(a.redis), a.Config.CircuitBreaker)
	a.admin.stores = append(a.admin.stores, storeGuard{name: "redis-idempotency", state: repo.State})
	a.guard = idempotency.NewGuard(repo, a.Config.Idempotency, clock.Real(), a.Logger)
	window := idempotency.NewLeaseWindow(repo, a.Config.Idempotency.LeaseWindow, a.Logger)

	senders, err := a.initDeliveryClients(initCtx)
	if err != nil {
		return nil, err
	}

	router, err := notification.NewRouter(a.Config.Routing.Rules)
	if err != nil {
		return nil, err
	}

	return notification.NewOrchestrator(verifier, a.guard, router, senders, a.Logger,
		notification.WithLeaseWindow(window),
	), nil
}

func (a *App) initDeliveryClients(ctx context.Context) ([]notification.Sender, error) {
	var senders []notification.Sender

	if cfg := a.Config.Delivery.Email; cfg.Enabled {
		transport, err := delivery.NewEmailTransport(cfg, a.secrets)
		if err != nil {
			return nil, err
		}
		client := delivery.NewClient(transport, delivery.EmailPolicy(cfg), a.Logger)
		senders = append(senders, client)
		a.admin.delivery = append(a.admin.delivery, client.Breaker())
		a.Logger.InfowCtx(ctx, "Email delivery enabled", "templates", len(cfg.Templates))
	}

	if cfg := a.Config.Delivery.Chat; cfg.Enabled {
		transport := delivery.NewChatTransport(cfg, a.secrets)
		client := delivery.NewClient(transport, delivery.ChatPolicy(cfg), a.Logger)
		senders = append(senders, client)
		a.admin.delivery = append(a.admin.delivery, client.Breaker())
		a.Logger.InfowCtx(ctx, "Chat delivery enabled")
	}

	if len(senders) == 0 {
		return nil, fmt.Errorf("no delivery channel is enabled")
	}
	return senders, nil
}

func (a *App) initHTTPServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))

	if rl := a.Config.Server.RateLimit; rl.Enabled {
		router.Use(ratelimit.RateLimitMiddleware(ratelimit.FromSettings(rl), a.stopAdmin))
	}

	a.admin.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		a.guard.ReportCacheSize(gCtx, cacheSizeInterval)
		return nil
	})

	inputTopic := a.Config.Broker.Kafka.InputTopic
	if inputTopic == "" {
		inputTopic = constants.DefaultInputTopic
	}

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Consuming lease events", "topic", inputTopic)
		return a.Consumer.Consume(gCtx, inputTopic, a.handler.Handle)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down notification service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		select {
		case <-a.stopAdmin:
		default:
			close(a.stopAdmin)
		}

		if a.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.postgres, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
