package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := write(t, "xgrowth.yaml", `
server:
  address: ":9090"
storage:
  driver: redis
  redis:
    address: "127.0.0.1:6379"
feed:
  driver: redis
  redis:
    queue: "updates"
    block_wait: 2s
program:
  blockhash_ttl: 30
ledger:
  cluster_config: clusters.yaml
logging:
  level: debug
  audit:
    enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dir := filepath.Dir(path)
	if cfg.Server.Address != ":9090" || cfg.Server.MetricsPath != "/metrics" {
		t.Fatalf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Feed.Redis.Address != "127.0.0.1:6379" || cfg.Feed.Redis.Queue != "updates" || cfg.Feed.Redis.BlockWait.Duration != 2*time.Second {
		t.Fatalf("unexpected feed config %+v", cfg.Feed)
	}
	if cfg.Program.BlockhashTTL.Duration != 30*time.Second {
		t.Fatalf("blockhash ttl = %s", cfg.Program.BlockhashTTL)
	}
	if cfg.Ledger.ClusterConfig != filepath.Join(dir, "clusters.yaml") {
		t.Fatalf("cluster config = %s", cfg.Ledger.ClusterConfig)
	}
	if cfg.Logging.Audit.Path != filepath.Join(dir, "data", "audit.log") {
		t.Fatalf("audit path = %s", cfg.Logging.Audit.Path)
	}
	if cfg.Feed.Workers != 4 || cfg.Feed.MaxAttempts != 5 {
		t.Fatalf("unexpected feed defaults %+v", cfg.Feed)
	}
}

func TestLoadJSON(t *testing.T) {
	path := write(t, "xgrowth.json", `{"storage":{"driver":"mysql","mysql":{"dsn":"u:p@tcp(db)/x","conn_max_lifetime":"1m"}},"feed":{"driver":"rabbitmq","rabbitmq":{"url":"amqp://guest:guest@mq/"}}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.MySQL.ConnMaxLifetime.Duration != time.Minute || cfg.Storage.MySQL.MaxOpenConns != 16 {
		t.Fatalf("unexpected mysql config %+v", cfg.Storage.MySQL)
	}
	if cfg.Feed.RabbitMQ.URL == "" {
		t.Fatalf("rabbitmq url lost")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"bad.toml":      "x = 1",
		"mysql.yaml":    "storage:\n  driver: mysql\n",
		"queue.yaml":    "feed:\n  driver: kafka\n",
		"duration.yaml": "program:\n  blockhash_ttl: soon\n",
	}
	for name, content := range cases {
		if _, err := Load(write(t, name, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "xgrowth.yaml"))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if cfg.Program.CrankKeypair != "" || cfg.Program.CrankInterval.Duration != time.Minute {
		t.Fatalf("unexpected crank settings %+v", cfg.Program)
	}
	if cfg.Feed.RabbitMQ.Prefetch != 8 || cfg.Storage.MySQL.ConnMaxLifetime.Duration != 30*time.Minute {
		t.Fatalf("unexpected backend settings %+v %+v", cfg.Feed, cfg.Storage)
	}
}

func TestCrankKeypairResolvedAgainstConfigDir(t *testing.T) {
	path := write(t, "xgrowth.yaml", `
program:
  crank_keypair: keys/crank.json
  crank_interval: 5m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := filepath.Join(filepath.Dir(path), "keys", "crank.json")
	if cfg.Program.CrankKeypair != want || cfg.Program.CrankInterval.Duration != 5*time.Minute {
		t.Fatalf("unexpected program config %+v", cfg.Program)
	}
}
