package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"XGrowth-Chain/internal/config"
)

// Registry manages RPC submitters keyed by cluster name.
type Registry struct {
	defaultCluster string
	clusters       map[string]*RPCSubmitter
}

// NewRegistry loads cluster definitions and builds one submitter per cluster.
func NewRegistry(cfg config.LedgerConfig) (*Registry, error) {
	defs, err := LoadClusterDefinitions(cfg.ClusterConfig)
	if err != nil {
		return nil, err
	}
	clusters := make(map[string]*RPCSubmitter, len(defs.Clusters))
	for name, def := range defs.Clusters {
		rpcCfg := RPCConfig{
			Name:       name,
			URL:        def.RPCURL,
			Commitment: def.Commitment,
		}
		if rpcCfg.PollInterval, err = parseOptionalDuration(def.PollInterval); err != nil {
			return nil, fmt.Errorf("集群 %s 的 poll_interval 无效: %w", name, err)
		}
		if rpcCfg.Timeout, err = parseOptionalDuration(def.Timeout); err != nil {
			return nil, fmt.Errorf("集群 %s 的 timeout 无效: %w", name, err)
		}
		sub, err := NewRPCSubmitter(rpcCfg)
		if err != nil {
			return nil, fmt.Errorf("初始化集群 %s 失败: %w", name, err)
		}
		clusters[name] = sub
	}
	if len(clusters) == 0 {
		return &Registry{clusters: clusters}, nil
	}

	defaultCluster := cfg.DefaultCluster
	if defaultCluster == "" {
		defaultCluster = defs.Names()[0]
	}
	if _, ok := clusters[defaultCluster]; !ok {
		return nil, fmt.Errorf("默认集群 %s 未在配置中找到", defaultCluster)
	}
	return &Registry{defaultCluster: defaultCluster, clusters: clusters}, nil
}

func parseOptionalDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

// Default returns the submitter of the default cluster.
func (r *Registry) Default() (*RPCSubmitter, error) {
	if r == nil || r.defaultCluster == "" {
		return nil, errors.New("未配置任何集群")
	}
	return r.clusters[r.defaultCluster], nil
}

// Cluster returns the submitter identified by name.
func (r *Registry) Cluster(name string) (*RPCSubmitter, bool) {
	if r == nil {
		return nil, false
	}
	sub, ok := r.clusters[name]
	return sub, ok
}

// Clusters returns the registered cluster names.
func (r *Registry) Clusters() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clusters))
	for name := range r.clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases the RPC clients.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, sub := range r.clusters {
		sub.Close()
		delete(r.clusters, name)
	}
}
