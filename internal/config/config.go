package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string
	LogLevel string

	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔）与通知 Topic
	KafkaBrokers []string
	KafkaTopic   string

	// Redis Stream outbox（履约事务提交后入流，Relay 异步转 Kafka）
	NotifyEventStream   string
	NotifyEventGroup    string
	NotifyEventConsumer string

	// 对账轮询：扫描间隔与跨实例互斥锁的 TTL
	SweepInterval time.Duration
	SweepLockTTL  time.Duration

	// 公开申请接口的限流与履约状态缓存策略
	RequestRateLimit  int
	RequestRateWindow time.Duration
	FulfillStateTTL   time.Duration

	// 员工操作接口的简单管理员令牌（demo 级别保护）
	StaffAdminToken string
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DBPath:              getEnv("DB_PATH", "blood_bank.db"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:             0,
		KafkaBrokers:        splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "blood-bank-notifications"),
		NotifyEventStream:   getEnv("NOTIFY_EVENT_STREAM", "blood_bank:notify_events"),
		NotifyEventGroup:    getEnv("NOTIFY_EVENT_GROUP", "blood-bank-relay-group"),
		NotifyEventConsumer: getEnv("NOTIFY_EVENT_CONSUMER", "blood-bank-relay-1"),
		SweepInterval:       30 * time.Second,
		SweepLockTTL:        2 * time.Minute,
		RequestRateLimit:    100,
		RequestRateWindow:   time.Second,
		FulfillStateTTL:     24 * time.Hour,
		StaffAdminToken:     getEnv("STAFF_ADMIN_TOKEN", "dev-admin-token"),
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	sweepSec, err := getEnvInt("SWEEP_INTERVAL_SEC", int(cfg.SweepInterval.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SWEEP_INTERVAL_SEC: %w", err)
	}
	if sweepSec <= 0 {
		return AppConfig{}, fmt.Errorf("SWEEP_INTERVAL_SEC must be > 0")
	}
	cfg.SweepInterval = time.Duration(sweepSec) * time.Second

	lockSec, err := getEnvInt("SWEEP_LOCK_TTL_SEC", int(cfg.SweepLockTTL.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SWEEP_LOCK_TTL_SEC: %w", err)
	}
	if lockSec <= 0 {
		return AppConfig{}, fmt.Errorf("SWEEP_LOCK_TTL_SEC must be > 0")
	}
	cfg.SweepLockTTL = time.Duration(lockSec) * time.Second

	rateLimit, err := getEnvInt("REQUEST_RATE_LIMIT", cfg.RequestRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REQUEST_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("REQUEST_RATE_LIMIT must be > 0")
	}
	cfg.RequestRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("REQUEST_RATE_WINDOW_SEC", int(cfg.RequestRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REQUEST_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("REQUEST_RATE_WINDOW_SEC must be > 0")
	}
	cfg.RequestRateWindow = time.Duration(rateWindowSec) * time.Second

	stateTTLHour, err := getEnvInt("FULFILL_STATE_TTL_HOUR", int(cfg.FulfillStateTTL.Hours()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid FULFILL_STATE_TTL_HOUR: %w", err)
	}
	if stateTTLHour <= 0 {
		return AppConfig{}, fmt.Errorf("FULFILL_STATE_TTL_HOUR must be > 0")
	}
	cfg.FulfillStateTTL = time.Duration(stateTTLHour) * time.Hour

	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if cfg.NotifyEventStream == "" {
		return AppConfig{}, fmt.Errorf("NOTIFY_EVENT_STREAM must not be empty")
	}
	if cfg.NotifyEventGroup == "" {
		return AppConfig{}, fmt.Errorf("NOTIFY_EVENT_GROUP must not be empty")
	}
	if cfg.NotifyEventConsumer == "" {
		return AppConfig{}, fmt.Errorf("NOTIFY_EVENT_CONSUMER must not be empty")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
