// Package config loads broker configuration from an optional YAML file,
// with defaults and TRIBUTARY_* environment overrides on top. A .env file in
// the working directory is honored when present.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`
	LogLevel   string `yaml:"log_level"`

	Broker BrokerConfig `yaml:"broker"`
}

type BrokerConfig struct {
	// PartitionChannelSize bounds each partition writer's inbound channel;
	// a full channel back-pressures producers.
	PartitionChannelSize int `yaml:"partition_channel_size"`
}

func defaults() *Config {
	return &Config{
		ListenAddr: "0.0.0.0:9460",
		DataDir:    "tributary-data",
		LogLevel:   "info",
		Broker: BrokerConfig{
			PartitionChannelSize: 1000,
		},
	}
}

// Load builds the effective configuration. Path may be empty, in which case
// only defaults and the environment apply.
func Load(path string) (*Config, error) {
	// missing .env is fine; it is a convenience, not a requirement
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config file %s", path)
		}
	}

	applyEnv(cfg)

	if cfg.Broker.PartitionChannelSize <= 0 {
		return nil, errors.New("partition_channel_size must be positive")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.ListenAddr = getEnv("TRIBUTARY_LISTEN_ADDR", cfg.ListenAddr)
	cfg.DataDir = getEnv("TRIBUTARY_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = getEnv("TRIBUTARY_LOG_LEVEL", cfg.LogLevel)
	cfg.Broker.PartitionChannelSize = getEnvAsInt("TRIBUTARY_PARTITION_CHANNEL_SIZE", cfg.Broker.PartitionChannelSize)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return fallback
}
