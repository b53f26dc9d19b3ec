package modelstore

import (
	"fmt"

	"github.com/rzpsarthak13/modelstore/internal/registry"
)

// Config represents the root configuration for a model store client.
type Config = registry.Config

// BackendConfig selects the storage backend: "memory", "mysql", "sqlite" or "kv".
type BackendConfig = registry.BackendConfig

// MySQLConfig contains MySQL connection and pool settings.
// When ReplicaHost is set, reads go to the replica except within
// BackendConfig.StickyWindow after a write.
type MySQLConfig = registry.MySQLConfig

// SQLiteConfig contains the SQLite database location.
type SQLiteConfig = registry.SQLiteConfig

// KVConfig configures the key-value backend and the store beneath it
// ("redis", "dynamodb" or "memory").
type KVConfig = registry.KVConfig

// RedisConfig contains Redis connection settings.
type RedisConfig = registry.RedisConfig

// DynamoDBConfig contains DynamoDB connection settings.
type DynamoDBConfig = registry.DynamoDBConfig

// ChangeFeedConfig configures publication of change events after writes.
type ChangeFeedConfig = registry.ChangeFeedConfig

// KafkaConfig contains Kafka settings for a "kafka" change feed.
type KafkaConfig = registry.KafkaConfig

// SchemaConfig declares a model in configuration.
type SchemaConfig = registry.SchemaConfig

// ColumnConfig declares one column of a SchemaConfig.
type ColumnConfig = registry.ColumnConfig

// IndexConfig declares a secondary index of a SchemaConfig.
type IndexConfig = registry.IndexConfig

// DefaultConfig returns a configuration with sensible defaults:
// an in-process memory backend and a disabled change feed.
func DefaultConfig() *Config {
	return registry.DefaultConfig()
}

// LoadConfig reads a YAML or JSON configuration file, chosen by extension,
// and overlays MODELSTORE_* environment variables. An empty path loads the
// defaults plus the environment.
//
// Example:
//
//	config, err := modelstore.LoadConfig("modelstore.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfig(path string) (*Config, error) {
	cm := registry.NewConfigManager()
	if path != "" {
		if err := cm.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cm.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}
	return cm.GetConfig(), nil
}

// ParseConfig parses YAML configuration data on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cm := registry.NewConfigManager()
	if err := cm.LoadFromYAML(data); err != nil {
		return nil, err
	}
	return cm.GetConfig(), nil
}
