// Package app wires the transaction service: storage, broker, buses, the
// status consumer, the outbox relay and the HTTP API.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/config"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/cqrs"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/database"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/events"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/middleware"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
	redisClient "github.com/FernandoCandela/app-nodejs-codechallenge/shared/redis"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/resilience"
	txcmd "github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/command"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/consumer"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/handler"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/outbox"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/producer"
	txqry "github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/query"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/repository"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/migrations"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	shutdownTimeout = 10 * time.Second
)

type App struct {
	cfg   config.TransactionService
	redis *goredis.Client
	db    *sql.DB
	log   *logrus.Entry

	uow      repository.UnitOfWork
	commands *cqrs.Bus
	queries  *cqrs.Bus

	dbBreaker     *resilience.Breaker
	brokerBreaker *resilience.Breaker

	consumer   *consumer.StatusConsumer
	subscriber *events.Subscriber
	relay      *outbox.Relay
	router     *gin.Engine
}

// New opens storage as configured and builds every component. rdb serves as
// broker, cache and rate limit store.
func New(ctx context.Context, cfg config.TransactionService, rdb *goredis.Client) (*App, error) {
	a := &App{
		cfg:   cfg,
		redis: rdb,
		log:   logrus.WithField("component", "transaction-service"),
	}

	switch cfg.StorageDriver {
	case StorageMemory:
		a.log.Warn("using in-memory storage, data is lost on restart")
		a.uow = repository.NewMemoryUnitOfWork(repository.DefaultTransactionTypes...)
	case StoragePostgres, "":
		db, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.RunMigrations {
			if err := database.Migrate(db, migrations.FS); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		a.db = db
		a.uow = repository.NewPostgresUnitOfWork(db)
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if err := a.build(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	retry := resilience.RetryPolicy{
		MaxAttempts:     a.cfg.RetryMaxAttempts,
		InitialInterval: a.cfg.RetryInitialInterval,
	}
	a.dbBreaker = a.breaker("database", apperrors.ErrServiceUnavailable)
	a.brokerBreaker = a.breaker("broker", apperrors.ErrPublishUnavailable)

	publisher := events.NewPublisher(a.redis, events.PublisherConfig{
		Partitions: a.cfg.BrokerPartitions,
		AckTimeout: a.cfg.PublishAckTimeout,
	})
	resilient := events.NewProducer(publisher, resilience.Policy{Retry: retry, Breaker: a.brokerBreaker})
	txProducer := producer.NewTransactionProducer(resilient)

	stores := a.uow.Stores()
	readRepo := repository.NewTransactionReadRepository(
		stores.Transactions,
		stores.Types,
		redisClient.NewViewCache[models.TransactionView](a.redis, repository.TransactionsRegion, a.cfg.CacheTransactionsTTL),
		redisClient.NewViewCache[models.TransactionType](a.redis, repository.TransactionTypesRegion, a.cfg.CacheTransactionTypesTTL),
	)

	a.commands = cqrs.NewBus("command")
	cqrs.Register[cqrs.CreateTransactionCommand, *models.TransactionView](a.commands,
		txcmd.NewCreateTransactionHandler(a.uow, readRepo, txProducer, a.dbBreaker))
	cqrs.Register[cqrs.UpdateTransactionStatusCommand, cqrs.NoResult](a.commands,
		txcmd.NewUpdateTransactionStatusHandler(a.uow, readRepo, a.dbBreaker))
	if err := a.commands.Validate(cqrs.CreateTransaction, cqrs.UpdateTransactionStatus); err != nil {
		return err
	}

	a.queries = cqrs.NewBus("query")
	cqrs.Register[cqrs.GetTransactionQuery, *models.TransactionView](a.queries,
		txqry.NewGetTransactionHandler(readRepo, a.dbBreaker))
	if err := a.queries.Validate(cqrs.GetTransaction); err != nil {
		return err
	}

	a.consumer = consumer.NewStatusConsumer(
		a.commands,
		resilience.Policy{Retry: retry, Breaker: a.breaker("status-consumer", apperrors.ErrServiceUnavailable)},
		events.AckOnExhaustion,
		events.NewRedisDeadLetterSink(a.redis),
	)
	a.subscriber = events.NewSubscriber(a.redis, events.SubscriberConfig{
		Group:        a.cfg.ConsumerGroup,
		Consumer:     a.cfg.ConsumerName,
		ClaimMinIdle: a.cfg.ConsumerClaimMinIdle,
		Topic:        events.TransactionStatusUpdatedTopic,
		Partitions:   a.cfg.BrokerPartitions,
		Handler:      a.consumer.Handle,
	})
	a.relay = outbox.NewRelay(a.uow, txProducer, outbox.Config{
		Schedule:  a.cfg.OutboxSchedule,
		BatchSize: a.cfg.OutboxBatchSize,
	})

	router, err := a.routes(handler.Buses{Commands: a.commands, Queries: a.queries})
	if err != nil {
		return err
	}
	a.router = router
	return nil
}

func (a *App) breaker(name string, unavailable error) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerSettings{
		Name:         name,
		FailureRatio: a.cfg.BreakerFailureRatio,
		MinRequests:  a.cfg.BreakerMinRequests,
		OpenTimeout:  a.cfg.BreakerOpenTimeout,
		IsFailure:    resilience.IsOutage,
	}, unavailable)
}

func (a *App) routes(buses handler.Buses) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware())

	router.GET("/health", a.health)

	limiter, err := middleware.NewRedisLimiter(a.redis, "transaction-service:ratelimit", a.cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	handler.NewTransactionHandler(buses, buses).Register(router, middleware.RateLimit(limiter))

	if a.cfg.AuditJWTSecret != "" {
		handler.NewEventStoreHandler(a.uow.Stores().Events).
			Register(router, middleware.AuthMiddleware([]byte(a.cfg.AuditJWTSecret)))
	} else {
		a.log.Info("AUDIT_JWT_SECRET not set, event store API disabled")
	}
	return router, nil
}

func (a *App) health(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{
		"redis":           "ok",
		"storage":         "ok",
		"databaseBreaker": a.dbBreaker.State(),
		"brokerBreaker":   a.brokerBreaker.State(),
	}
	status := http.StatusOK

	if err := (&redisClient.Client{Client: a.redis}).Healthy(ctx, 2*time.Second); err != nil {
		checks["redis"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if a.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := a.db.PingContext(pingCtx); err != nil {
			checks["storage"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	if status != http.StatusOK {
		c.JSON(status, gin.H{"status": "degraded", "checks": checks})
		return
	}
	c.JSON(status, gin.H{"status": "ok", "checks": checks})
}

// Handler is the HTTP API.
func (a *App) Handler() http.Handler {
	return a.router
}

// Run serves HTTP on addr and runs the status consumer and the outbox relay
// until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.relay.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs <- fmt.Errorf("status subscriber stopped: %w", err)
		}
	}()

	srv := &http.Server{Addr: addr, Handler: a.router}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.log.WithField("addr", addr).Info("transaction service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Error("http server shutdown failed")
	}
	wg.Wait()
	a.log.Info("transaction service stopped")
	return runErr
}

// Close releases the database. The Redis client belongs to the caller.
func (a *App) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
