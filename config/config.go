// Package config loads the YAML configuration tree the rest of the
// process is built from, the same sectioned-struct shape as the
// teacher's ServerConfig/PersistenceConfig/MonitoringConfig/
// ElectionConfig, but expressed as a file format instead of functional
// options so an operator can hand-edit it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"rapidstore/eviction"
)

// ServerSection is the listener and hz-task configuration.
type ServerSection struct {
	Address   string `yaml:"address"`
	Port      int    `yaml:"port"`
	HZ        int    `yaml:"hz"`
	Databases int    `yaml:"databases"`
}

// EvictionSection maps directly onto eviction.Config's recognized
// options from spec §6.
type EvictionSection struct {
	MaxMemory              uint64 `yaml:"max_memory"`
	Policy                 string `yaml:"policy"`
	Samples                int    `yaml:"samples"`
	LFULogFactor           int    `yaml:"lfu_log_factor"`
	LFUDecayMinutes        int    `yaml:"lfu_decay_minutes"`
	LazyFreeLazyEviction   bool   `yaml:"lazyfree_lazy_eviction"`
	ReplicaIgnoreMaxMemory bool   `yaml:"replica_ignore_maxmemory"`
}

// PersistenceSection configures the append-log, generalizing the
// teacher's PersistenceConfig (WALSyncInterval/WALPath/WALMaxSize).
type PersistenceSection struct {
	AppendLogPath         string        `yaml:"append_log_path"`
	AppendLogMaxSize      uint32        `yaml:"append_log_max_size"`
	AppendLogSyncInterval time.Duration `yaml:"append_log_sync_interval"`
}

// MonitoringSection configures the metrics endpoint, matching the
// teacher's MonitoringConfig.
type MonitoringSection struct {
	MetricsPort     int           `yaml:"metrics_port"`
	MetricsPath     string        `yaml:"metrics_path"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

// ElectionSection configures the zookeeper-backed replica tracker,
// matching the teacher's ElectionConfig.
type ElectionSection struct {
	ZookeeperServers []string      `yaml:"zookeeper_servers"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	FollowerAddress  string        `yaml:"follower_address"`
}

// SnapshotSection configures the cloud-storage snapshot store.
type SnapshotSection struct {
	Bucket          string `yaml:"bucket"`
	CredentialsPath string `yaml:"credentials_path"`
	Path            string `yaml:"path"`
}

// Config is the full process configuration tree.
type Config struct {
	Server      ServerSection      `yaml:"server"`
	Eviction    EvictionSection    `yaml:"eviction"`
	Persistence PersistenceSection `yaml:"persistence"`
	Monitoring  MonitoringSection  `yaml:"monitoring"`
	Election    ElectionSection    `yaml:"election"`
	Snapshot    SnapshotSection    `yaml:"snapshot"`
}

// Default mirrors the teacher's defeaultServerConfig/default*Config
// functions, collected into one tree instead of four.
func Default() Config {
	return Config{
		Server: ServerSection{Address: "0.0.0.0", Port: 6380, HZ: 10, Databases: 16},
		Eviction: EvictionSection{
			MaxMemory:       0,
			Policy:          "noeviction",
			Samples:         5,
			LFULogFactor:    10,
			LFUDecayMinutes: 1,
		},
		Persistence: PersistenceSection{
			AppendLogPath:         "./appendlog.log",
			AppendLogMaxSize:      10 * 1024 * 1024,
			AppendLogSyncInterval: time.Second,
		},
		Monitoring: MonitoringSection{
			MetricsPort:     9090,
			MetricsPath:     "/metrics",
			MetricsInterval: 750 * time.Millisecond,
		},
		Election: ElectionSection{
			ZookeeperServers: []string{"localhost:2181"},
			ConnectTimeout:   5 * time.Second,
		},
		Snapshot: SnapshotSection{
			Bucket:          "rapid-store-bucket-storage",
			CredentialsPath: "config/key.json",
			Path:            "internal_state_dump",
		},
	}
}

// Load reads and parses the YAML file at path over top of Default, so a
// partial config file only needs to name what it overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// EvictionConfig converts the YAML eviction section into eviction.Config,
// validating the policy string along the way.
func (c Config) EvictionConfig() (eviction.Config, error) {
	policy, err := eviction.ParsePolicy(c.Eviction.Policy)
	if err != nil {
		return eviction.Config{}, err
	}
	cfg := eviction.NewConfig(
		eviction.WithMaxMemory(c.Eviction.MaxMemory),
		eviction.WithPolicy(policy),
		eviction.WithSamples(c.Eviction.Samples),
		eviction.WithLFULogFactor(c.Eviction.LFULogFactor),
		eviction.WithLFUDecayMinutes(c.Eviction.LFUDecayMinutes),
		eviction.WithLazyFreeLazyEviction(c.Eviction.LazyFreeLazyEviction),
		eviction.WithReplicaIgnoreMaxMemory(c.Eviction.ReplicaIgnoreMaxMemory),
		eviction.WithHZ(c.Server.HZ),
	)
	if err := cfg.Validate(); err != nil {
		return eviction.Config{}, err
	}
	return cfg, nil
}
