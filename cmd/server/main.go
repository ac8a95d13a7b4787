package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voucherledger/internal/config"
	"voucherledger/internal/handler"
	"voucherledger/internal/infrastructure/cache"
	"voucherledger/internal/infrastructure/database"
	"voucherledger/internal/infrastructure/lock"
	"voucherledger/internal/infrastructure/mq"
	"voucherledger/internal/job"
	"voucherledger/internal/service"
	"voucherledger/pkg/idgen"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig("config/config.yaml")

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	idgen.Init(cfg.Server.WorkerID)

	db := database.InitMySQL(&cfg.MySQL)
	redisClient := cache.InitRedis(&cfg.Redis)
	locks := lock.NewRedisProvider(redisClient)

	producer := mq.InitKafka(&cfg.Kafka)
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(db, producer, cfg, logger)
	go outboxSender.Start(ctx)

	expirationSweep := job.NewExpirationSweep(db, cfg, logger)
	go expirationSweep.Start(ctx)

	invoiceService := service.NewInvoiceService(db, locks, cfg, logger)
	invoiceSweep := job.NewInvoiceSweep(invoiceService, cfg, logger)
	go invoiceSweep.Start(ctx)

	router := handler.SetupRouter(db, locks, cfg, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}
