package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Config wisefido-directory（目录同步服务）配置
type Config struct {
	Database DatabaseConfig
	Redis    struct {
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level  string
		Format string
	}
	Sync   SyncConfig
	Collab CollabConfig
}

// CollabConfig 协同复制配置
type CollabConfig struct {
	Enabled       bool   // 是否启用事件驱动的协同复制
	ConsumerGroup string // 同步事件流的消费者组
	ConsumerName  string // 消费者标识（多实例部署时区分）
}

// SyncConfig 同步引擎配置
type SyncConfig struct {
	BatchSize       int           // 单次flush写入的最大行数（受DB参数上限约束）
	TaskTimeout     time.Duration // 单次同步的墙钟预算，超时→failed
	LockTTL         time.Duration // Redis同步锁TTL（防止崩溃后锁泄漏）
	ScheduleEnabled bool          // 是否启用周期触发
	ScheduleEvery   time.Duration // 周期触发间隔
	EventStream     string        // 变更日志/同步完成事件的 Redis Stream
	MaxDepth        int           // 部门树最大深度（防环上限）
}

func Load() *Config {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "owldir")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "20"), 20)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Sync.BatchSize = parseInt(getEnv("SYNC_BATCH_SIZE", "200"), 200)
	cfg.Sync.TaskTimeout = parseDuration(getEnv("SYNC_TASK_TIMEOUT", "30m"), 30*time.Minute)
	cfg.Sync.LockTTL = parseDuration(getEnv("SYNC_LOCK_TTL", "1h"), time.Hour)
	cfg.Sync.ScheduleEnabled = getEnv("SYNC_SCHEDULE_ENABLED", "true") == "true"
	cfg.Sync.ScheduleEvery = parseDuration(getEnv("SYNC_SCHEDULE_EVERY", "1h"), time.Hour)
	cfg.Sync.EventStream = getEnv("SYNC_EVENT_STREAM", "directory:sync:events")
	cfg.Sync.MaxDepth = parseInt(getEnv("SYNC_MAX_DEPTH", "10"), 10)

	cfg.Collab.Enabled = getEnv("COLLAB_ENABLED", "true") == "true"
	cfg.Collab.ConsumerGroup = getEnv("COLLAB_CONSUMER_GROUP", "directory-collab")
	cfg.Collab.ConsumerName = getEnv("COLLAB_CONSUMER_NAME", "collab-1")

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}
