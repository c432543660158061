package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"blood_bank/internal/config"
	"blood_bank/internal/engine"
	"blood_bank/internal/model"
	"blood_bank/internal/queue"
	"blood_bank/internal/router"
	"blood_bank/internal/scheduler"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	// 1. 配置与日志
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	// 2. 连接 SQLite，自动建表
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := db.AutoMigrate(
		&model.BloodRequest{},
		&model.BloodInventory{},
		&model.DonationRequest{},
		&model.RequestMatch{},
		&model.BloodRequestInventory{},
		&model.Notification{},
	); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	// 3. Redis 与 Kafka
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()
	appender := queue.NewStreamAppender(rdb, cfg.NotifyEventStream)

	// 4. 履约引擎：同步触发（HTTP）与后台轮询共用这一个实例
	eng := engine.New(db, appender, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 5. 后台任务：通知 relay 与对账轮询
	relay := queue.NewRelay(rdb, producer, cfg.NotifyEventStream, cfg.NotifyEventGroup, cfg.NotifyEventConsumer, logger)
	go relay.Run(ctx)

	sched := scheduler.New(scheduler.NewStore(db), eng, rdb, cfg.SweepInterval, cfg.SweepLockTTL, logger)
	go sched.Run(ctx)

	// 6. HTTP
	r := gin.Default()
	router.Setup(r, db, rdb, eng, cfg)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http serve", zap.Error(err))
		}
	}()
	logger.Info("server started", zap.String("addr", cfg.HTTPAddr))

	// 7. 优雅退出：先停 HTTP，后台任务随 ctx 取消自行收尾
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// newLogger 按配置级别构造生产型 zap。
func newLogger(level string) (*zap.Logger, error) {
	lv, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lv
	return cfg.Build()
}
