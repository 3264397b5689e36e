package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gagliardetto/solana-go"
	flag "github.com/spf13/pflag"

	"XGrowth-Chain/internal/address"
	"XGrowth-Chain/internal/api"
	"XGrowth-Chain/internal/config"
	"XGrowth-Chain/internal/crank"
	"XGrowth-Chain/internal/events"
	"XGrowth-Chain/internal/ledger"
	"XGrowth-Chain/internal/market"
	"XGrowth-Chain/internal/observability/alerting"
	"XGrowth-Chain/internal/observability/metrics"
	"XGrowth-Chain/internal/oracle"
	"XGrowth-Chain/internal/oracle/feed"
	"XGrowth-Chain/internal/platform"
	"XGrowth-Chain/internal/program"
	"XGrowth-Chain/internal/rewards"
	"XGrowth-Chain/internal/storage"
	"XGrowth-Chain/internal/storage/mysql"
	redisstore "XGrowth-Chain/internal/storage/redis"
	"XGrowth-Chain/pkg/logger"
)

// main 是 XGrowth 守护进程的入口。
func main() {
	configPath := flag.StringP("config", "c", "", "配置文件路径，默认读取 $"+config.EnvPath)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, resolveConfigPath(*configPath)); err != nil {
		log.Fatalf("xgrowthd 运行失败: %v", err)
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(config.EnvPath); env != "" {
		return env
	}
	return filepath.Join("configs", "xgrowth.yaml")
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.L()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	programID := address.DefaultProgramID()
	if cfg.Program.ProgramID != "" {
		programID, err = solana.PublicKeyFromBase58(cfg.Program.ProgramID)
		if err != nil {
			return fmt.Errorf("program_id 非法: %w", err)
		}
	}
	derive := address.NewDeriver(programID)
	bus := events.NewBus()

	collector := metrics.NewCollector()
	go func() {
		if err := collector.Run(ctx, bus); err != nil && !errors.Is(err, context.Canceled) {
			lg.Warn("指标订阅退出", slog.Any("error", err))
		}
	}()

	plat := platform.NewService(store, derive, platform.WithEventBus(bus))
	exec := market.NewExecutor(store, derive, market.WithEventBus(bus), market.WithRecorder(collector))
	ingest := oracle.NewIngestor(store, derive, oracle.WithEventBus(bus))
	ledgerSvc := rewards.NewLedger(store, derive, rewards.WithEventBus(bus), rewards.WithRecorder(collector))

	runtime := program.NewRuntime(derive, program.Services{
		Platform: plat,
		Market:   exec,
		Oracle:   ingest,
		Rewards:  ledgerSvc,
	}, program.WithBlockhashTTL(cfg.Program.BlockhashTTL.Duration))

	queue, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			lg.Warn("关闭上报队列失败", slog.Any("error", err))
		}
	}()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alert.SlackWebhookURL != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.WebhookSender{URL: cfg.Alert.SlackWebhookURL},
			ChannelID: cfg.Alert.SlackChannel,
		})
	}
	alerts := alerting.NewFanout(notifiers...)

	processor := feed.NewProcessor(ingest, queue, queue,
		feed.WithWorkerCount(cfg.Feed.Workers),
		feed.WithMaxAttempts(cfg.Feed.MaxAttempts),
		feed.WithAlertDispatcher(alerts),
		feed.WithResultHook(collector.ObserveFeedResult),
	)
	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("上报处理器异常退出", slog.Any("error", err))
		}
	}()

	if cfg.Program.CrankKeypair != "" {
		stopCrank, err := startCrank(ctx, cfg, derive, runtime, alerts)
		if err != nil {
			return err
		}
		defer stopCrank()
	}

	server := api.NewServer(cfg.Server.Address, api.Services{
		Deriver:  derive,
		Platform: plat,
		Market:   exec,
		Oracle:   ingest,
		Rewards:  ledgerSvc,
		Runtime:  runtime,
		Feed:     queue,
	},
		api.WithMetrics(collector, cfg.Server.MetricsPath),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout.Duration),
	)
	lg.Info("XGrowth 守护进程启动",
		slog.String("address", cfg.Server.Address),
		slog.String("program_id", programID.String()),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("feed", cfg.Feed.Driver))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type closableStore interface {
	storage.Store
	Close() error
}

func openStore(ctx context.Context, cfg *config.Config) (closableStore, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "mysql":
		return mysql.NewAccountStore(ctx, mysql.Config{
			DSN:             cfg.Storage.MySQL.DSN,
			MaxOpenConns:    cfg.Storage.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.MySQL.ConnMaxLifetime.Duration,
			Migrate:         cfg.Storage.MySQL.Migrate,
		})
	case "redis":
		return redisstore.NewAccountStore(ctx, redisstore.Config{
			Address:   cfg.Storage.Redis.Address,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			KeyPrefix: cfg.Storage.Redis.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

func openQueue(ctx context.Context, cfg *config.Config) (feed.Queue, error) {
	switch cfg.Feed.Driver {
	case "memory":
		return feed.NewMemoryQueue(cfg.Feed.BufferSize), nil
	case "redis":
		return feed.NewRedisQueue(ctx, feed.RedisQueueConfig{
			Address:   cfg.Feed.Redis.Address,
			Password:  cfg.Feed.Redis.Password,
			DB:        cfg.Feed.Redis.DB,
			Queue:     cfg.Feed.Redis.Queue,
			BlockWait: cfg.Feed.Redis.BlockWait.Duration,
		})
	case "rabbitmq":
		return feed.NewRabbitMQQueue(feed.RabbitMQConfig{
			URL:      cfg.Feed.RabbitMQ.URL,
			Queue:    cfg.Feed.RabbitMQ.Queue,
			Prefetch: cfg.Feed.RabbitMQ.Prefetch,
			Durable:  true,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Feed.Driver)
	}
}

// startCrank 启动周期结算任务。配置了集群时提交到链上，否则提交到本地运行时。
func startCrank(ctx context.Context, cfg *config.Config, derive *address.Deriver, local *program.Runtime, alerts alerting.Dispatcher) (func(), error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.Program.CrankKeypair)
	if err != nil {
		return nil, fmt.Errorf("读取结算密钥失败: %w", err)
	}

	var (
		sub     ledger.Submitter = local
		cleanup                  = func() {}
	)
	if cfg.Ledger.ClusterConfig != "" {
		registry, err := ledger.NewRegistry(cfg.Ledger)
		if err != nil {
			return nil, err
		}
		remote, err := registry.Default()
		if err != nil {
			registry.Close()
			return nil, err
		}
		sub, cleanup = remote, registry.Close
	}

	c := crank.New(sub, derive, key,
		crank.WithInterval(cfg.Program.CrankInterval.Duration),
		crank.WithAlertDispatcher(alerts))
	crankCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(crankCtx)
	}()
	return func() {
		cancel()
		<-done
		cleanup()
	}, nil
}
