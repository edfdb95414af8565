package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/VictoryV20/SecureChain/internal/anchor"
	"github.com/VictoryV20/SecureChain/internal/anomaly"
	"github.com/VictoryV20/SecureChain/internal/api"
	"github.com/VictoryV20/SecureChain/internal/auth"
	"github.com/VictoryV20/SecureChain/internal/config"
	"github.com/VictoryV20/SecureChain/internal/event"
	"github.com/VictoryV20/SecureChain/internal/ledger"
	"github.com/VictoryV20/SecureChain/internal/observability/alerting"
	"github.com/VictoryV20/SecureChain/internal/observability/metrics"
	"github.com/VictoryV20/SecureChain/internal/storage/mysql"
	"github.com/VictoryV20/SecureChain/pkg/logger"
)

// main 是 SecureChain 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("securechaind 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("SECURECHAIN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "securechain.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// 初始化账本存储。
	var store ledger.Store
	switch cfg.Storage.Ledger.Driver {
	case "memory", "":
		store = ledger.NewMemoryStore()
	case "mysql":
		sqlStore, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.Storage.Ledger.DSN,
			MaxOpenConns:    cfg.Storage.Ledger.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Ledger.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.Ledger.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Storage.Ledger.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		store = sqlStore
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Ledger.Driver)
	}

	// 初始化事件队列与事件源。
	var queue event.Producer
	switch cfg.Events.Driver {
	case "", "memory":
		queue = event.NewMemoryQueue(cfg.Events.Buffer)
	case "redis":
		redisQueue, err := event.NewRedisQueue(event.RedisQueueConfig{
			Address:   cfg.Events.Redis.Address,
			Password:  cfg.Events.Redis.Password,
			DB:        cfg.Events.Redis.DB,
			Queue:     cfg.Events.Redis.Queue,
			BlockWait: time.Duration(cfg.Events.Redis.BlockWaitSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		queue = redisQueue
	case "rabbitmq":
		rabbitQueue, err := event.NewRabbitMQQueue(event.RabbitMQConfig{
			URL:        cfg.Events.RabbitMQ.URL,
			Queue:      cfg.Events.RabbitMQ.Queue,
			Prefetch:   cfg.Events.RabbitMQ.Prefetch,
			Durable:    cfg.Events.RabbitMQ.Durable,
			AutoDelete: cfg.Events.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		queue = rabbitQueue
	default:
		return fmt.Errorf("未知的事件队列驱动: %s", cfg.Events.Driver)
	}
	feed := event.NewFeed(queue)
	defer func() {
		if err := feed.Close(); err != nil {
			logger.L().Warn("关闭事件源失败", "error", err)
		}
	}()

	dispatcher := alerting.NewFanout(&alerting.LogNotifier{})
	engine := ledger.NewEngine(store, feed, dispatcher)
	defer engine.Close()

	// 命令行侧的阈值覆盖，仅在配置显式给出时生效。
	if cfg.Ledger.FraudThreshold > 0 {
		if err := engine.SetFraudThreshold(ctx, cfg.Ledger.FraudThreshold); err != nil {
			return err
		}
	}

	if cfg.Ledger.AnomalySeedPath != "" {
		if err := seedAnomalyProfiles(ctx, engine, cfg.Ledger.AnomalySeedPath); err != nil {
			return err
		}
	}

	// 构造调用方密钥环。
	keys := make(map[string]ledger.Identity, len(cfg.Auth.APIKeys))
	for _, entry := range cfg.Auth.APIKeys {
		keys[entry.Key] = ledger.Identity(entry.Participant)
	}
	keyring := auth.NewKeyring(keys)

	// 可选的链上锚定组件。
	var (
		notary  *anchor.Notary
		journal *anchor.Journal
	)
	if cfg.Anchor.Enabled {
		notary, err = anchor.Dial(ctx, cfg.Anchor.RPCURL)
		if err != nil {
			return err
		}
		defer notary.Close()

		journal, err = anchor.NewJournal(dataDir)
		if err != nil {
			return err
		}
	}

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Warn("指标服务异常退出", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, engine, keyring, notary, journal)

	logger.L().Info("securechaind 已启动",
		"address", cfg.Server.Address,
		"store", cfg.Storage.Ledger.Driver,
		"events", cfg.Events.Driver,
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// seedAnomalyProfiles 在启动时导入异常画像种子。对应参与方尚未注册的条目
// 只记录告警后跳过，不阻塞启动。
func seedAnomalyProfiles(ctx context.Context, engine *ledger.Engine, path string) error {
	profiles, err := anomaly.Load(path)
	if err != nil {
		return err
	}
	for _, profile := range profiles {
		if _, err := engine.SetAnomalyProfile(ctx, 0, profile.ID, profile); err != nil {
			if errors.Is(err, ledger.ErrParticipantNotFound) {
				logger.L().Warn("跳过未注册参与方的异常画像", "participant", profile.ID)
				continue
			}
			return err
		}
	}
	return nil
}
