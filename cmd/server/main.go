package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock-service/config"
	"stock-service/internal/api"
	"stock-service/internal/broker"
	"stock-service/internal/cache"
	"stock-service/internal/lock"
	"stock-service/internal/redisclient"
	"stock-service/internal/service"
	"stock-service/internal/store"
	"stock-service/internal/util"
	"stock-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting stock service")

	tp, err := util.InitTracer("stock-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicStock)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	lockService := lock.NewService(redisClient)
	invalidator := cache.NewInvalidator(redisClient)

	stockService := service.NewStockService(db, lockService, invalidator, redisClient, eventPublisher, service.Config{
		LockTTL:         cfg.Lock.TTL,
		LockWaitTimeout: cfg.Lock.WaitTimeout,
		CacheTTL:        cfg.Cache.TTL,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go func() {
		if err := invalidator.Listen(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Cache invalidation listener error: %v", err)
		}
	}()

	sweeper := worker.NewReservationSweeper(db, stockService, eventPublisher, cfg.Sweep.Interval, cfg.Sweep.BatchSize)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Reservation sweeper error: %v", err)
		}
	}()

	paymentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayments, cfg.Kafka.ConsumerGroup)
	paymentHandler := worker.NewPaymentHandler(db, stockService)
	paymentWorker := worker.NewPaymentWorker(paymentConsumer, paymentHandler)
	go func() {
		if err := paymentWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Payment worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(stockService, db)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if err := paymentWorker.Stop(); err != nil {
		log.Printf("Payment worker stop error: %v", err)
	}

	log.Println("Server exited")
}
