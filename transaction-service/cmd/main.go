package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/config"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/logging"
	redisClient "github.com/FernandoCandela/app-nodejs-codechallenge/shared/redis"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/app"
)

func main() {
	cfg, err := config.LoadTransactionService(".")
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	log := logging.Setup("transaction-service", cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("transaction service stopped with error")
	}
}

func run(cfg config.TransactionService) error {
	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Redis connection (broker, view cache and rate limit store)
	redis, err := redisClient.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redis.Close()

	service, err := app.New(ctx, cfg, redis.Client)
	if err != nil {
		return err
	}
	defer service.Close()

	return service.Run(ctx, ":"+cfg.Port)
}
