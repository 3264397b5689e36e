package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"XGrowth-Chain/pkg/logger"
)

// EnvPath 指定配置文件路径的环境变量。
const EnvPath = "XGROWTH_CONFIG"

// Config 描述了 XGrowth 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Feed    FeedConfig    `json:"feed" yaml:"feed"`
	Program ProgramConfig `json:"program" yaml:"program"`
	Ledger  LedgerConfig  `json:"ledger" yaml:"ledger"`
	Logging logger.Config `json:"logging" yaml:"logging"`
	Alert   AlertConfig   `json:"alerting" yaml:"alerting"`
	Runtime RuntimeConfig `json:"runtime" yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string   `json:"address" yaml:"address"`
	MetricsPath     string   `json:"metrics_path" yaml:"metrics_path"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StorageConfig 选择账户存储后端。
type StorageConfig struct {
	Driver string      `json:"driver" yaml:"driver"`
	MySQL  MySQLConfig `json:"mysql" yaml:"mysql"`
	Redis  RedisConfig `json:"redis" yaml:"redis"`
}

// MySQLConfig 描述 MySQL 账户存储。
type MySQLConfig struct {
	DSN             string   `json:"dsn" yaml:"dsn"`
	MaxOpenConns    int      `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	Migrate         bool     `json:"migrate" yaml:"migrate"`
}

// RedisConfig 描述 Redis 连接，账户存储与上报队列共用。
type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// FeedConfig 描述预言机上报队列与处理器。
type FeedConfig struct {
	Driver      string         `json:"driver" yaml:"driver"`
	Workers     int            `json:"workers" yaml:"workers"`
	MaxAttempts int            `json:"max_attempts" yaml:"max_attempts"`
	BufferSize  int            `json:"buffer_size" yaml:"buffer_size"`
	Redis       RedisQueue     `json:"redis" yaml:"redis"`
	RabbitMQ    RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisQueue 描述 Redis list 队列。
type RedisQueue struct {
	RedisConfig `json:",inline" yaml:",inline"`
	Queue       string   `json:"queue" yaml:"queue"`
	BlockWait   Duration `json:"block_wait" yaml:"block_wait"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL      string `json:"url" yaml:"url"`
	Queue    string `json:"queue" yaml:"queue"`
	Prefetch int    `json:"prefetch" yaml:"prefetch"`
}

// ProgramConfig 描述本地程序运行时。
type ProgramConfig struct {
	ProgramID    string   `json:"program_id" yaml:"program_id"`
	BlockhashTTL Duration `json:"blockhash_ttl" yaml:"blockhash_ttl"`
	// CrankKeypair 为 solana-keygen 格式的密钥文件，留空则不启动结算任务。
	CrankKeypair  string   `json:"crank_keypair" yaml:"crank_keypair"`
	CrankInterval Duration `json:"crank_interval" yaml:"crank_interval"`
}

// LedgerConfig 指向集群定义文件。
type LedgerConfig struct {
	ClusterConfig  string `json:"cluster_config" yaml:"cluster_config"`
	DefaultCluster string `json:"default_cluster" yaml:"default_cluster"`
}

// AlertConfig 描述告警渠道。
type AlertConfig struct {
	SlackWebhookURL string `json:"slack_webhook_url" yaml:"slack_webhook_url"`
	SlackChannel    string `json:"slack_channel" yaml:"slack_channel"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// Duration 支持 "30s" 形式的时长，也接受整数秒。
type Duration struct {
	time.Duration
}

// UnmarshalYAML 解析 YAML 时长。
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

// MarshalYAML 输出字符串形式。
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalJSON 解析 JSON 时长。
func (d *Duration) UnmarshalJSON(data []byte) error {
	return d.parse(strings.Trim(string(data), `"`))
}

// MarshalJSON 输出字符串形式。
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		d.Duration = 0
		return nil
	}
	if v, err := time.ParseDuration(raw); err == nil {
		d.Duration = v
		return nil
	}
	var secs int64
	if _, err := fmt.Sscan(raw, &secs); err != nil {
		return fmt.Errorf("无法解析时长 %q", raw)
	}
	d.Duration = time.Duration(secs) * time.Second
	return nil
}

// Load 按扩展名解析 YAML 或 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	case ".json":
		err = json.Unmarshal(content, &cfg)
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回未加载文件时使用的配置。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(".")
	return &cfg
}

// Validate 检查后端选择与必填连接参数。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			return errors.New("storage.mysql.dsn 不能为空")
		}
	case "redis":
		if c.Storage.Redis.Address == "" {
			return errors.New("storage.redis.address 不能为空")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.Driver)
	}
	switch c.Feed.Driver {
	case "memory":
	case "redis":
		if c.Feed.Redis.Address == "" {
			return errors.New("feed.redis.address 不能为空")
		}
	case "rabbitmq":
		if c.Feed.RabbitMQ.URL == "" {
			return errors.New("feed.rabbitmq.url 不能为空")
		}
	default:
		return fmt.Errorf("不支持的队列驱动: %s", c.Feed.Driver)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = "/metrics"
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		c.Server.ShutdownTimeout.Duration = 10 * time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.MySQL.MaxOpenConns <= 0 {
		c.Storage.MySQL.MaxOpenConns = 16
	}
	if c.Storage.MySQL.MaxIdleConns <= 0 {
		c.Storage.MySQL.MaxIdleConns = 4
	}
	if c.Storage.MySQL.ConnMaxLifetime.Duration <= 0 {
		c.Storage.MySQL.ConnMaxLifetime.Duration = 30 * time.Minute
	}
	if c.Storage.Redis.KeyPrefix == "" {
		c.Storage.Redis.KeyPrefix = "xgrowth:account:"
	}

	if c.Feed.Driver == "" {
		c.Feed.Driver = "memory"
	}
	if c.Feed.Workers <= 0 {
		c.Feed.Workers = 4
	}
	if c.Feed.MaxAttempts <= 0 {
		c.Feed.MaxAttempts = 5
	}
	if c.Feed.BufferSize <= 0 {
		c.Feed.BufferSize = 256
	}
	if c.Feed.Redis.Address == "" && c.Storage.Driver == "redis" {
		c.Feed.Redis.RedisConfig = c.Storage.Redis
	}

	if c.Program.BlockhashTTL.Duration <= 0 {
		c.Program.BlockhashTTL.Duration = 90 * time.Second
	}
	if c.Program.CrankInterval.Duration <= 0 {
		c.Program.CrankInterval.Duration = time.Minute
	}
	if c.Program.CrankKeypair != "" && !filepath.IsAbs(c.Program.CrankKeypair) {
		c.Program.CrankKeypair = filepath.Join(baseDir, c.Program.CrankKeypair)
	}

	if c.Ledger.ClusterConfig != "" && !filepath.IsAbs(c.Ledger.ClusterConfig) {
		c.Ledger.ClusterConfig = filepath.Join(baseDir, c.Ledger.ClusterConfig)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	} else if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
}
