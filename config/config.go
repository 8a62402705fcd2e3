// Package config loads a node's cluster membership and tuning
// parameters from a YAML file.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cole-miller/refloat/raft"
)

// PeerConfig names one other cluster member and how to reach it.
type PeerConfig struct {
	Id      raft.ServerId `yaml:"id"`
	Address string        `yaml:"address"`
}

// Config is the full contents of a node's config file.
type Config struct {
	Id                       raft.ServerId `yaml:"id"`
	DataDir                  string        `yaml:"data_dir"`
	ListenAddress            string        `yaml:"listen_address"`
	MetricsAddress           string        `yaml:"metrics_address"`
	MinimumElectionTimeoutMs int           `yaml:"minimum_election_timeout_ms"`
	Peers                    []PeerConfig  `yaml:"peers"`
}

// Load reads and validates the YAML config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read file")
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, errors.Wrap(err, "config: parse yaml")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.MinimumElectionTimeoutMs == 0 {
		c.MinimumElectionTimeoutMs = 250
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Id == 0 {
		return errors.New("config: id must be nonzero")
	}
	if c.DataDir == "" {
		return errors.New("config: data_dir is required")
	}
	if c.ListenAddress == "" {
		return errors.New("config: listen_address is required")
	}
	seen := map[raft.ServerId]bool{c.Id: true}
	for _, p := range c.Peers {
		if p.Id == 0 {
			return errors.New("config: peer id must be nonzero")
		}
		if seen[p.Id] {
			return errors.Errorf("config: duplicate server id %d", p.Id)
		}
		seen[p.Id] = true
		if p.Address == "" {
			return errors.Errorf("config: peer %d missing address", p.Id)
		}
	}
	return nil
}

// NumServers is the cluster size: this node plus its configured peers.
func (c *Config) NumServers() int {
	return len(c.Peers) + 1
}
