// Package app wires the antifraud service: the transaction-created
// subscriber, the verdict producer and the health endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/antifraud-service/internal/consumer"
	"github.com/FernandoCandela/app-nodejs-codechallenge/antifraud-service/internal/service"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/config"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/events"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/middleware"
	redisClient "github.com/FernandoCandela/app-nodejs-codechallenge/shared/redis"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/resilience"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg   config.Antifraud
	redis *goredis.Client
	log   *logrus.Entry

	brokerBreaker *resilience.Breaker
	service       *service.AntiFraudService
	consumer      *consumer.CreatedConsumer
	subscriber    *events.Subscriber
	router        *gin.Engine
}

func New(cfg config.Antifraud, rdb *goredis.Client) (*App, error) {
	threshold, err := cfg.Threshold()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:   cfg,
		redis: rdb,
		log:   logrus.WithField("component", "antifraud-service"),
	}
	a.brokerBreaker = resilience.NewBreaker(resilience.BreakerSettings{
		Name:         "broker",
		FailureRatio: cfg.BreakerFailureRatio,
		MinRequests:  cfg.BreakerMinRequests,
		OpenTimeout:  cfg.BreakerOpenTimeout,
		IsFailure:    resilience.IsOutage,
	}, apperrors.ErrPublishUnavailable)

	publisher := events.NewPublisher(rdb, events.PublisherConfig{
		Partitions: cfg.BrokerPartitions,
		AckTimeout: cfg.PublishAckTimeout,
	})
	producer := events.NewProducer(publisher, resilience.Policy{
		Retry: resilience.RetryPolicy{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialInterval: cfg.RetryInitialInterval,
		},
		Breaker: a.brokerBreaker,
	})

	a.service = service.NewAntiFraudService(threshold, producer)
	a.consumer = consumer.NewCreatedConsumer(a.service)
	a.subscriber = events.NewSubscriber(rdb, events.SubscriberConfig{
		Group:        cfg.ConsumerGroup,
		Consumer:     cfg.ConsumerName,
		ClaimMinIdle: cfg.ConsumerClaimMinIdle,
		Topic:        events.TransactionCreatedTopic,
		Partitions:   cfg.BrokerPartitions,
		Handler:      a.consumer.Handle,
	})

	a.router = gin.New()
	a.router.Use(gin.Recovery(), middleware.LoggingMiddleware())
	a.router.GET("/health", a.health)

	a.log.WithField("threshold", threshold.StringFixed(2)).Info("antifraud service configured")
	return a, nil
}

func (a *App) health(c *gin.Context) {
	checks := gin.H{
		"redis":         "ok",
		"brokerBreaker": a.brokerBreaker.State(),
	}
	if err := (&redisClient.Client{Client: a.redis}).Healthy(c.Request.Context(), 2*time.Second); err != nil {
		checks["redis"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}

// Handler is the HTTP surface (health only).
func (a *App) Handler() http.Handler {
	return a.router
}

// Run consumes transaction-created events and serves health checks on addr
// until ctx is cancelled.
func (a *App) Run(ctx context.Context, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs <- fmt.Errorf("created subscriber stopped: %w", err)
		}
	}()

	srv := &http.Server{Addr: addr, Handler: a.router}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.log.WithField("addr", addr).Info("antifraud service listening")
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
	a.log.Info("antifraud service stopped")
	return runErr
}
