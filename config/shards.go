package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SymbolShard is a group of symbols polled by one Tencent reader, optionally
// bound to a specific source IP.
type SymbolShard struct {
	IP      string   `yaml:"ip"`
	Symbols []string `yaml:"symbols"`
}

// SymbolShards represents the full shard configuration.
type SymbolShards struct {
	Shards []SymbolShard `yaml:"shards"`
}

// LoadSymbolShards loads shard configuration from the given path.
func LoadSymbolShards(path string) (*SymbolShards, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shards file: %w", err)
	}
	var cfg SymbolShards
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse shards file: %w", err)
	}
	for i, s := range cfg.Shards {
		if len(s.Symbols) == 0 {
			return nil, fmt.Errorf("shard %d has no symbols", i)
		}
	}
	return &cfg, nil
}

// Symbols returns every shard symbol once, in file order.
func (s *SymbolShards) Symbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, shard := range s.Shards {
		for _, sym := range shard.Symbols {
			if _, ok := seen[sym]; ok {
				continue
			}
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	return out
}
