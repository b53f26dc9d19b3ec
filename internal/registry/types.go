package registry

import (
	"time"
)

// Config is the complete store configuration.
type Config struct {
	Backend    BackendConfig    `yaml:"backend" json:"backend"`
	ChangeFeed ChangeFeedConfig `yaml:"changefeed" json:"changefeed"`
	Schemas    []SchemaConfig   `yaml:"schemas,omitempty" json:"schemas,omitempty"`
}

// BackendConfig selects and configures the storage backend.
// Type is one of "memory", "mysql", "sqlite" or "kv".
type BackendConfig struct {
	Type string `yaml:"type" json:"type"`

	// StickyWindow routes reads to the primary for this long after a write
	// when a read replica is configured.
	StickyWindow time.Duration `yaml:"sticky_window,omitempty" json:"sticky_window,omitempty"`

	MySQL  MySQLConfig  `yaml:"mysql,omitempty" json:"mysql,omitempty"`
	SQLite SQLiteConfig `yaml:"sqlite,omitempty" json:"sqlite,omitempty"`
	KV     KVConfig     `yaml:"kv,omitempty" json:"kv,omitempty"`
}

// MySQLConfig contains MySQL connection and pool settings.
type MySQLConfig struct {
	Host              string        `yaml:"host" json:"host"`
	Port              int           `yaml:"port" json:"port"`
	Database          string        `yaml:"database" json:"database"`
	Username          string        `yaml:"username" json:"username"`
	Password          string        `yaml:"password" json:"password"`
	ReplicaHost       string        `yaml:"replica_host,omitempty" json:"replica_host,omitempty"`
	ReplicaPort       int           `yaml:"replica_port,omitempty" json:"replica_port,omitempty"`
	MaxOpenConns      int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns      int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
}

// SQLiteConfig contains the SQLite database location.
// Path ":memory:" opens a private in-process database.
type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"`
}

// KVConfig configures the key-value backend and the store beneath it.
// Type is one of "redis", "dynamodb" or "memory".
type KVConfig struct {
	Type         string         `yaml:"type" json:"type"`
	Namespace    string         `yaml:"namespace" json:"namespace"`
	Compress     bool           `yaml:"compress" json:"compress"`
	Redis        RedisConfig    `yaml:"redis,omitempty" json:"redis,omitempty"`
	DynamoDB     DynamoDBConfig `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty"`
	MaxRetries   int            `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	DialTimeout  time.Duration  `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	ReadTimeout  time.Duration  `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout time.Duration  `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	Endpoints    []string `yaml:"endpoints" json:"endpoints"`
	ClusterMode  bool     `yaml:"cluster_mode" json:"cluster_mode"`
	Password     string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int      `yaml:"db" json:"db"`
	PoolSize     int      `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int      `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// DynamoDBConfig contains DynamoDB-specific configuration.
type DynamoDBConfig struct {
	Region          string `yaml:"region" json:"region"`
	TableName       string `yaml:"table_name" json:"table_name"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// ChangeFeedConfig configures publication of change events after writes.
// Type is one of "memory", "redis" or "kafka".
type ChangeFeedConfig struct {
	Enabled      bool        `yaml:"enabled" json:"enabled"`
	Type         string      `yaml:"type" json:"type"`
	BufferSize   int         `yaml:"buffer_size" json:"buffer_size"`
	DispatchRate int         `yaml:"dispatch_rate" json:"dispatch_rate"` // events per second
	BatchSize    int         `yaml:"batch_size" json:"batch_size"`
	RedisKey     string      `yaml:"redis_key,omitempty" json:"redis_key,omitempty"`
	Kafka        KafkaConfig `yaml:"kafka,omitempty" json:"kafka,omitempty"`
}

// KafkaConfig contains Kafka-specific configuration.
type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers" json:"brokers"`
	Topic           string        `yaml:"topic" json:"topic"`
	GroupID         string        `yaml:"group_id" json:"group_id"`
	BatchSize       int           `yaml:"batch_size" json:"batch_size"`
	BatchTimeout    time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	RequiredAcks    int           `yaml:"required_acks" json:"required_acks"`
	MaxMessageBytes int           `yaml:"max_message_bytes" json:"max_message_bytes"`
	MinBytes        int           `yaml:"min_bytes" json:"min_bytes"`
	MaxBytes        int           `yaml:"max_bytes" json:"max_bytes"`
	MaxWait         time.Duration `yaml:"max_wait" json:"max_wait"`
}
