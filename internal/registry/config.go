package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/modelstore/internal/core"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "MODELSTORE_"

// ConfigValidator is the Strategy interface for validating configuration.
// Each backend provides its own validator for its section of BackendConfig.
type ConfigValidator interface {
	// Validate validates the backend-specific configuration.
	Validate(config *Config) error

	// Type returns the backend type this validator handles (e.g., "mysql", "kv").
	Type() string
}

var (
	// validatorRegistry stores all registered config validators.
	validatorRegistry = make(map[string]ConfigValidator)

	// validatorRegistryMutex protects the validator registry from concurrent access.
	validatorRegistryMutex sync.RWMutex
)

// ValidationStrategyRegistry provides methods to register and retrieve config validators.
type ValidationStrategyRegistry struct{}

// Register registers a config validator.
// Panics if validator is nil, type is empty, or type is already registered.
func (r *ValidationStrategyRegistry) Register(validator ConfigValidator) {
	if validator == nil {
		panic("validator cannot be nil")
	}
	if validator.Type() == "" {
		panic("validator type cannot be empty")
	}

	validatorRegistryMutex.Lock()
	defer validatorRegistryMutex.Unlock()

	if _, exists := validatorRegistry[validator.Type()]; exists {
		panic(fmt.Sprintf("validator for type %q is already registered", validator.Type()))
	}
	validatorRegistry[validator.Type()] = validator
}

// Get retrieves a validator by type.
func (r *ValidationStrategyRegistry) Get(validatorType string) (ConfigValidator, bool) {
	validatorRegistryMutex.RLock()
	defer validatorRegistryMutex.RUnlock()

	validator, exists := validatorRegistry[validatorType]
	return validator, exists
}

// RegisterValidator registers a validator with the default registry.
// Backends call it from their init() functions.
func RegisterValidator(validator ConfigValidator) {
	defaultValidationRegistry.Register(validator)
}

// GetValidator retrieves a validator by type from the default registry.
func GetValidator(validatorType string) (ConfigValidator, bool) {
	return defaultValidationRegistry.Get(validatorType)
}

// ValidatorTypes lists the registered validator types in sorted order.
func ValidatorTypes() []string {
	validatorRegistryMutex.RLock()
	defer validatorRegistryMutex.RUnlock()

	types := make([]string, 0, len(validatorRegistry))
	for t := range validatorRegistry {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

var defaultValidationRegistry = &ValidationStrategyRegistry{}

// ConfigManager handles loading and managing configuration from various sources.
type ConfigManager struct {
	config *Config
}

// NewConfigManager creates a new configuration manager with default configuration.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: DefaultConfig(),
	}
}

// DefaultConfig returns a configuration with sensible defaults: an
// in-process backend and a disabled change feed.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Type:         "memory",
			StickyWindow: 2 * time.Second,
			MySQL: MySQLConfig{
				Host:              "localhost",
				Port:              3306,
				MaxOpenConns:      25,
				MaxIdleConns:      5,
				ConnMaxLifetime:   5 * time.Minute,
				ConnMaxIdleTime:   10 * time.Minute,
				ConnectionTimeout: 10 * time.Second,
			},
			SQLite: SQLiteConfig{
				Path: ":memory:",
			},
			KV: KVConfig{
				Type:      "memory",
				Namespace: "modelstore",
				Compress:  true,
				Redis: RedisConfig{
					Endpoints:    []string{"localhost:6379"},
					PoolSize:     10,
					MinIdleConns: 5,
				},
				MaxRetries:   3,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
			},
		},
		ChangeFeed: ChangeFeedConfig{
			Enabled:      false,
			Type:         "memory",
			BufferSize:   10000,
			DispatchRate: 100,
			BatchSize:    50,
			RedisKey:     "modelstore:changes",
			Kafka: KafkaConfig{
				Brokers:         []string{"localhost:9092"},
				Topic:           "modelstore-changes",
				GroupID:         "modelstore",
				BatchSize:       100,
				BatchTimeout:    10 * time.Millisecond,
				WriteTimeout:    10 * time.Second,
				ReadTimeout:     10 * time.Second,
				RequiredAcks:    -1,
				MaxMessageBytes: 1000000,
				MinBytes:        1,
				MaxBytes:        10 * 1024 * 1024,
				MaxWait:         100 * time.Millisecond,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file.
// The file format is determined by the file extension (.yaml, .yml, or .json).
func (cm *ConfigManager) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		return cm.LoadFromYAML(data)
	case ".json":
		return cm.LoadFromJSON(data)
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}

// LoadFromYAML loads configuration from YAML data.
func (cm *ConfigManager) LoadFromYAML(data []byte) error {
	config := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return cm.apply(config)
}

// LoadFromJSON loads configuration from JSON data.
func (cm *ConfigManager) LoadFromJSON(data []byte) error {
	config := DefaultConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return cm.apply(config)
}

// LoadFromEnv overlays environment variables onto the current configuration.
// Variables follow the pattern MODELSTORE_<SECTION>_<KEY>, for example:
//   - MODELSTORE_BACKEND_TYPE=sqlite
//   - MODELSTORE_SQLITE_PATH=/var/lib/app.db
//   - MODELSTORE_MYSQL_HOST=db.internal
//   - MODELSTORE_KV_TYPE=redis
//   - MODELSTORE_REDIS_ENDPOINTS=localhost:6379,localhost:6380
//   - MODELSTORE_CHANGEFEED_TYPE=kafka
func (cm *ConfigManager) LoadFromEnv() error {
	config := *cm.config

	envString("BACKEND_TYPE", &config.Backend.Type)
	envDuration("BACKEND_STICKY_WINDOW", &config.Backend.StickyWindow)

	envString("MYSQL_HOST", &config.Backend.MySQL.Host)
	envInt("MYSQL_PORT", &config.Backend.MySQL.Port)
	envString("MYSQL_DATABASE", &config.Backend.MySQL.Database)
	envString("MYSQL_USERNAME", &config.Backend.MySQL.Username)
	envString("MYSQL_PASSWORD", &config.Backend.MySQL.Password)
	envString("MYSQL_REPLICA_HOST", &config.Backend.MySQL.ReplicaHost)
	envInt("MYSQL_MAX_OPEN_CONNS", &config.Backend.MySQL.MaxOpenConns)
	envInt("MYSQL_MAX_IDLE_CONNS", &config.Backend.MySQL.MaxIdleConns)

	envString("SQLITE_PATH", &config.Backend.SQLite.Path)

	envString("KV_TYPE", &config.Backend.KV.Type)
	envString("KV_NAMESPACE", &config.Backend.KV.Namespace)
	envBool("KV_COMPRESS", &config.Backend.KV.Compress)
	if val := os.Getenv(EnvPrefix + "REDIS_ENDPOINTS"); val != "" {
		config.Backend.KV.Redis.Endpoints = strings.Split(val, ",")
	}
	envBool("REDIS_CLUSTER_MODE", &config.Backend.KV.Redis.ClusterMode)
	envString("REDIS_PASSWORD", &config.Backend.KV.Redis.Password)
	envInt("REDIS_DB", &config.Backend.KV.Redis.DB)
	envString("DYNAMODB_REGION", &config.Backend.KV.DynamoDB.Region)
	envString("DYNAMODB_TABLE_NAME", &config.Backend.KV.DynamoDB.TableName)
	envString("DYNAMODB_ENDPOINT", &config.Backend.KV.DynamoDB.Endpoint)

	envBool("CHANGEFEED_ENABLED", &config.ChangeFeed.Enabled)
	envString("CHANGEFEED_TYPE", &config.ChangeFeed.Type)
	envInt("CHANGEFEED_DISPATCH_RATE", &config.ChangeFeed.DispatchRate)
	envInt("CHANGEFEED_BATCH_SIZE", &config.ChangeFeed.BatchSize)
	if val := os.Getenv(EnvPrefix + "KAFKA_BROKERS"); val != "" {
		config.ChangeFeed.Kafka.Brokers = strings.Split(val, ",")
	}
	envString("KAFKA_TOPIC", &config.ChangeFeed.Kafka.Topic)

	return cm.apply(&config)
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		var n int
		if _, err := fmt.Sscanf(val, "%d", &n); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val == "true" || val == "1"
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

// Load validates and adopts an in-memory configuration.
func (cm *ConfigManager) Load(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	return cm.apply(config)
}

func (cm *ConfigManager) apply(config *Config) error {
	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cm.config = config
	return nil
}

// GetConfig returns the current configuration.
func (cm *ConfigManager) GetConfig() *Config {
	return cm.config
}

// Schemas builds the model schemas declared in the configuration.
func (cm *ConfigManager) Schemas() ([]*core.ModelSchema, error) {
	out := make([]*core.ModelSchema, 0, len(cm.config.Schemas))
	for _, sc := range cm.config.Schemas {
		s, err := sc.Build()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// validateConfig validates the configuration and returns an error if invalid.
// Backend sections are validated by the strategy registered for the backend type.
func (cm *ConfigManager) validateConfig(config *Config) error {
	if config.Backend.Type == "" {
		return fmt.Errorf("backend.type is required")
	}
	validator, exists := GetValidator(config.Backend.Type)
	if !exists {
		return fmt.Errorf("unsupported backend type: %s (registered: %s)", config.Backend.Type, strings.Join(ValidatorTypes(), ", "))
	}
	if err := validator.Validate(config); err != nil {
		return fmt.Errorf("backend validation failed: %w", err)
	}
	if config.Backend.StickyWindow < 0 {
		return fmt.Errorf("backend.sticky_window must be non-negative")
	}

	if config.ChangeFeed.Enabled {
		switch config.ChangeFeed.Type {
		case "memory", "redis":
		case "kafka":
			if len(config.ChangeFeed.Kafka.Brokers) == 0 {
				return fmt.Errorf("changefeed.kafka.brokers is required when type is 'kafka'")
			}
			if config.ChangeFeed.Kafka.Topic == "" {
				return fmt.Errorf("changefeed.kafka.topic is required when type is 'kafka'")
			}
		default:
			return fmt.Errorf("changefeed.type must be 'memory', 'redis', or 'kafka'")
		}
		if config.ChangeFeed.DispatchRate <= 0 {
			return fmt.Errorf("changefeed.dispatch_rate must be greater than 0")
		}
		if config.ChangeFeed.BatchSize <= 0 {
			return fmt.Errorf("changefeed.batch_size must be greater than 0")
		}
		if config.ChangeFeed.Type == "redis" && config.Backend.Type != "kv" && len(config.Backend.KV.Redis.Endpoints) == 0 {
			return fmt.Errorf("changefeed of type 'redis' requires backend.kv.redis.endpoints")
		}
	}

	seen := make(map[string]struct{}, len(config.Schemas))
	for _, sc := range config.Schemas {
		if _, dup := seen[sc.Name]; dup {
			return fmt.Errorf("schema %q is declared more than once", sc.Name)
		}
		seen[sc.Name] = struct{}{}
		if _, err := sc.Build(); err != nil {
			return err
		}
	}
	return nil
}
