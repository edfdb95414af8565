package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述 securechaind 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	Ledger  LedgerConfig  `json:"ledger"`
	Events  EventsConfig  `json:"events"`
	Anchor  AnchorConfig  `json:"anchor"`
	Auth    AuthConfig    `json:"auth"`
	Logging LoggingConfig `json:"logging"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// StorageConfig 统一描述账本状态的持久化后端。
type StorageConfig struct {
	Ledger LedgerStoreConfig `json:"ledger_store"`
}

// LedgerStoreConfig 描述账本存储的驱动与连接参数。
type LedgerStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// LedgerConfig 放置账本引擎自身的参数。
type LedgerConfig struct {
	// FraudThreshold 为 0 时沿用存储中的当前阈值。
	FraudThreshold  uint64 `json:"fraud_threshold"`
	AnomalySeedPath string `json:"anomaly_seed_path"`
}

// EventsConfig 描述转换事件通道的驱动。
type EventsConfig struct {
	Driver   string              `json:"driver"`
	Buffer   int                 `json:"buffer"`
	Redis    RedisEventsConfig   `json:"redis"`
	RabbitMQ RabbitMQEventConfig `json:"rabbitmq"`
}

// RedisEventsConfig 描述 Redis 事件通道的连接参数。
type RedisEventsConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQEventConfig 描述 RabbitMQ 事件通道的连接参数。
type RabbitMQEventConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// AnchorConfig 描述可选的链上锚定公证配置。
type AnchorConfig struct {
	Enabled bool   `json:"enabled"`
	RPCURL  string `json:"rpc_url"`
}

// AuthConfig 描述静态 API Key 与参与方身份的映射。
type AuthConfig struct {
	APIKeys []APIKeyConfig `json:"api_keys"`
}

// APIKeyConfig 将一个 API Key 绑定到一个参与方身份。
type APIKeyConfig struct {
	Key         string `json:"key"`
	Participant string `json:"participant"`
}

// LoggingConfig 描述日志输出行为。
type LoggingConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig 描述审计日志的落盘与轮转。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Ledger.Driver == "" {
		c.Storage.Ledger.Driver = "memory"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 1024
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Ledger.AnomalySeedPath != "" && !filepath.IsAbs(c.Ledger.AnomalySeedPath) {
		c.Ledger.AnomalySeedPath = filepath.Join(baseDir, c.Ledger.AnomalySeedPath)
	}
}
