// Package config loads Master and storage-agent settings via viper,
// with environment overrides and file-missing fail-open defaults, the
// same pattern the teacher's config package uses.
package config

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const envPrefix = "DISTRODEPOT"

const (
	defaultChunkSize         = 4 << 20 // 4 MiB
	defaultReplicationFactor = 3
	defaultHeartbeatInterval = 5 * time.Second
	defaultHeartbeatTimeout  = 15 * time.Second
	defaultRebalanceInterval = 10 * time.Second
)

// MasterConfig holds the coordinator process's settings.
type MasterConfig struct {
	BindHost          string        `mapstructure:"bind_host"`
	BindPort          int           `mapstructure:"bind_port"`
	ChunkSize         int64         `mapstructure:"chunk_size"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	RebalanceInterval time.Duration `mapstructure:"rebalance_interval"`
	SnapshotPath      string        `mapstructure:"snapshot_path"`
	SnapshotKey       string        `mapstructure:"snapshot_key"`
	MetricsPort       int           `mapstructure:"metrics_port"`
}

// AgentConfig holds one storage node's settings.
type AgentConfig struct {
	NodeID            string        `mapstructure:"node_id"`
	PublicHost        string        `mapstructure:"public_host"`
	Port              int           `mapstructure:"port"`
	DataDir           string        `mapstructure:"data_dir"`
	MasterHost        string        `mapstructure:"master_host"`
	MasterPort        int           `mapstructure:"master_port"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	CapacityOverride  int64         `mapstructure:"capacity_override"`
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadMasterConfig reads config.yaml from configPath plus
// DISTRODEPOT_*-prefixed environment overrides, falling back to
// defaults when the file is missing.
func LoadMasterConfig(configPath string, log *logrus.Entry) *MasterConfig {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	v := newViper(configPath)

	v.SetDefault("bind_host", "0.0.0.0")
	v.SetDefault("bind_port", 7700)
	v.SetDefault("chunk_size", defaultChunkSize)
	v.SetDefault("replication_factor", defaultReplicationFactor)
	v.SetDefault("heartbeat_timeout", defaultHeartbeatTimeout)
	v.SetDefault("rebalance_interval", defaultRebalanceInterval)
	v.SetDefault("snapshot_path", "")
	v.SetDefault("snapshot_key", "")
	v.SetDefault("metrics_port", 0)

	if err := v.ReadInConfig(); err != nil {
		log.WithError(err).Warn("could not read master config file, using defaults and env overrides")
	}

	var cfg MasterConfig
	if err := v.Unmarshal(&cfg); err != nil {
		log.WithError(err).Fatal("unable to decode master config")
	}
	return &cfg
}

// LoadAgentConfig reads a storage agent's configuration the same way.
func LoadAgentConfig(configPath string, log *logrus.Entry) *AgentConfig {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	v := newViper(configPath)

	v.SetDefault("node_id", "")
	v.SetDefault("public_host", "127.0.0.1")
	v.SetDefault("port", 8800)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("master_host", "127.0.0.1")
	v.SetDefault("master_port", 7700)
	v.SetDefault("heartbeat_interval", defaultHeartbeatInterval)
	v.SetDefault("capacity_override", 0)

	if err := v.ReadInConfig(); err != nil {
		log.WithError(err).Warn("could not read agent config file, using defaults and env overrides")
	}

	var cfg AgentConfig
	if err := v.Unmarshal(&cfg); err != nil {
		log.WithError(err).Fatal("unable to decode agent config")
	}
	return &cfg
}
