package ledger

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ClusterDefinitions models the structure of configs/clusters.yaml.
type ClusterDefinitions struct {
	Clusters map[string]ClusterDefinition `yaml:"clusters"`
}

// ClusterDefinition describes a single cluster endpoint.
type ClusterDefinition struct {
	RPCURL       string `yaml:"rpc_url"`
	WSURL        string `yaml:"ws_url"`
	Commitment   string `yaml:"commitment"`
	ProgramID    string `yaml:"program_id"`
	PollInterval string `yaml:"poll_interval"`
	Timeout      string `yaml:"timeout"`
	Description  string `yaml:"description"`
}

// LoadClusterDefinitions parses the YAML file containing cluster metadata.
func LoadClusterDefinitions(path string) (ClusterDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ClusterDefinitions{Clusters: map[string]ClusterDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ClusterDefinitions{}, fmt.Errorf("读取集群配置失败: %w", err)
	}

	var defs ClusterDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ClusterDefinitions{}, fmt.Errorf("解析集群配置失败: %w", err)
	}
	if defs.Clusters == nil {
		defs.Clusters = map[string]ClusterDefinition{}
	}
	return defs, nil
}

// Names returns the cluster names in sorted order.
func (d ClusterDefinitions) Names() []string {
	names := make([]string, 0, len(d.Clusters))
	for name := range d.Clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
