package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/antifraud-service/internal/app"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/config"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/logging"
	redisClient "github.com/FernandoCandela/app-nodejs-codechallenge/shared/redis"
)

func main() {
	cfg, err := config.LoadAntifraud(".")
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	log := logging.Setup("antifraud-service", cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("antifraud service stopped with error")
	}
}

func run(cfg config.Antifraud) error {
	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Redis connection (broker)
	redis, err := redisClient.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redis.Close()

	service, err := app.New(cfg, redis.Client)
	if err != nil {
		return err
	}
	return service.Run(ctx, ":"+cfg.Port)
}
