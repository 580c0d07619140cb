package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"webhook-relay/internal/config"
	"webhook-relay/internal/handler"
	"webhook-relay/internal/repository"
	"webhook-relay/internal/service"

	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()

	dbURL := config.GetDBURL()
	redisCfg := config.GetRedisConfig()
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is empty")
	}
	if redisCfg.Addr == "" {
		logger.Fatal("REDIS_ADDR is empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// init storage (Postgres + Redis)
	storage, err := repository.NewStorage(dbURL, redisCfg, config.GetDeliveryQueue())
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize storage")
	}

	if err := storage.CreateTables(ctx); err != nil {
		logger.WithError(err).Fatal("failed to create tables")
	}

	relayService := service.NewRelayService(storage, logger)

	h := handler.NewHandler(logger, relayService)

	addr := config.GetListenAddr()
	server := &http.Server{
		Addr:    addr,
		Handler: h.Router(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server ListenAndServe error")
		}
	}()

	logger.Infof("Server started on %s", addr)

	worker := service.NewDeliveryWorker(storage, logger)
	go worker.Run(ctx)

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server forced to shutdown")
	} else {
		logger.Info("Server stopped gracefully")
	}

	if err := storage.Close(); err != nil {
		logger.WithError(err).Warn("storage close error")
	} else {
		logger.Info("Storage closed")
	}
}
