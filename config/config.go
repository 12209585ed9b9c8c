// Package config loads process settings from the environment, an optional
// .env file and an optional config.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/graph"
	"github.com/Ramsey-B/sorrel/pkg/identifiers"
	"github.com/Ramsey-B/sorrel/pkg/kafka"
	"github.com/Ramsey-B/sorrel/pkg/redis"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

type Config struct {
	AppName            string   `mapstructure:"app_name"`
	Port               int      `mapstructure:"port"`
	LogLevel           string   `mapstructure:"log_level"`
	PrettyLogs         bool     `mapstructure:"pretty_logs"`
	StartupMaxAttempts int      `mapstructure:"startup_max_attempts"`
	AllowOrigins       []string `mapstructure:"http_server_allow_origins"`

	HttpServerWriteTimeout time.Duration `mapstructure:"http_server_write_timeout"`
	HttpServerReadTimeout  time.Duration `mapstructure:"http_server_read_timeout"`
	HttpServerIdleTimeout  time.Duration `mapstructure:"http_server_idle_timeout"`

	// Database
	DatabaseHost                  string        `mapstructure:"db_host"`
	DatabasePort                  int           `mapstructure:"db_port"`
	DatabaseUserName              string        `mapstructure:"db_user_name"`
	DatabasePassword              string        `mapstructure:"db_password"`
	DatabaseName                  string        `mapstructure:"db_name"`
	DatabaseSSLMode               string        `mapstructure:"db_ssl_mode"`
	DatabaseMaxOpenConns          int           `mapstructure:"db_max_open_conns"`
	DatabaseMaxIdleConns          int           `mapstructure:"db_max_idle_conns"`
	DatabaseConnMaxLifetime       time.Duration `mapstructure:"db_conn_max_lifetime"`
	DatabaseMigrationFolderPath   string        `mapstructure:"db_migration_folder_path"`
	DatabaseMigrationVersion      uint          `mapstructure:"db_migration_version"`
	DatabaseMigrationForce        int           `mapstructure:"db_migration_force"`
	DatabaseMigrationAutoRollback bool          `mapstructure:"db_migration_auto_rollback"`

	// Redis pair cache and run locks. Disabled when RedisHost is empty.
	RedisHost     string        `mapstructure:"redis_host"`
	RedisPort     int           `mapstructure:"redis_port"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	PairCacheTTL  time.Duration `mapstructure:"pair_cache_ttl"`

	// Kafka
	KafkaEnabled         bool          `mapstructure:"kafka_enabled"`
	KafkaBrokers         []string      `mapstructure:"kafka_brokers"`
	KafkaEmployeesTopic  string        `mapstructure:"kafka_employees_topic"`
	KafkaConsumerGroup   string        `mapstructure:"kafka_consumer_group"`
	KafkaMatchEventTopic string        `mapstructure:"kafka_match_events_topic"`
	KafkaBatchSize       int           `mapstructure:"kafka_batch_size"`
	KafkaBatchTimeout    time.Duration `mapstructure:"kafka_batch_timeout"`
	KafkaRequiredAcks    int           `mapstructure:"kafka_required_acks"`
	KafkaCompression     string        `mapstructure:"kafka_compression"`

	// Graph projection. Disabled when GraphHost is empty.
	GraphHost     string `mapstructure:"graph_host"`
	GraphPort     int    `mapstructure:"graph_port"`
	GraphUsername string `mapstructure:"graph_username"`
	GraphPassword string `mapstructure:"graph_password"`

	// Tracing. An empty endpoint logs span names at debug.
	TracingEndpoint    string  `mapstructure:"otel_exporter_otlp_endpoint"`
	TracingProtocol    string  `mapstructure:"otel_exporter_otlp_protocol"`
	TracingInsecure    bool    `mapstructure:"otel_exporter_otlp_insecure"`
	TracingSampleRatio float64 `mapstructure:"otel_sample_ratio"`

	// Identifier hashing
	HashSaltGlobal        string `mapstructure:"hash_salt_global"`
	HashSaltCompanyMaster string `mapstructure:"hash_salt_company_master"`
	HashSaltVersion       int    `mapstructure:"hash_salt_version"`

	// Matching
	MatchingConfigPath string `mapstructure:"matching_config_path"`
	NicknamesPath      string `mapstructure:"nicknames_path"`
}

var defaults = map[string]any{
	"app_name":                    "sorrel",
	"port":                        3000,
	"log_level":                   "info",
	"pretty_logs":                 false,
	"startup_max_attempts":        5,
	"http_server_allow_origins":   []string{"*"},
	"http_server_write_timeout":   "30s",
	"http_server_read_timeout":    "10s",
	"http_server_idle_timeout":    "60s",
	"db_host":                     "localhost",
	"db_port":                     5432,
	"db_user_name":                "",
	"db_password":                 "",
	"db_name":                     "sorrel",
	"db_ssl_mode":                 "disable",
	"db_max_open_conns":           25,
	"db_max_idle_conns":           10,
	"db_conn_max_lifetime":        "10m",
	"db_migration_folder_path":    "db/pg",
	"db_migration_version":        0,
	"db_migration_force":          0,
	"db_migration_auto_rollback":  true,
	"redis_host":                  "",
	"redis_port":                  6379,
	"redis_password":              "",
	"redis_db":                    0,
	"pair_cache_ttl":              "24h",
	"kafka_enabled":               false,
	"kafka_brokers":               []string{"localhost:9092"},
	"kafka_employees_topic":       "employees",
	"kafka_consumer_group":        "sorrel-ingest",
	"kafka_match_events_topic":    "match-events",
	"kafka_batch_size":            100,
	"kafka_batch_timeout":         "100ms",
	"kafka_required_acks":         1,
	"kafka_compression":           "snappy",
	"graph_host":                  "",
	"graph_port":                  7687,
	"graph_username":              "",
	"graph_password":              "",
	"otel_exporter_otlp_endpoint": "",
	"otel_exporter_otlp_protocol": "grpc",
	"otel_exporter_otlp_insecure": true,
	"otel_sample_ratio":           1.0,
	"hash_salt_global":            "",
	"hash_salt_company_master":    "",
	"hash_salt_version":           1,
	"matching_config_path":        "",
	"nicknames_path":              "",
}

// Load reads .env (when present), config.yaml (when present) and the
// environment, in increasing precedence
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadFrom(viper.New())
}

// LoadFrom resolves the configuration through v
func LoadFrom(v *viper.Viper) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Database returns the Postgres connection settings
func (c *Config) Database() database.Config {
	return database.Config{
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

func (c *Config) Migration() *database.MigrationConfig {
	return &database.MigrationConfig{
		MigrationFolderPath: c.DatabaseMigrationFolderPath,
		Version:             c.DatabaseMigrationVersion,
		Force:               c.DatabaseMigrationForce,
		AutoRollback:        c.DatabaseMigrationAutoRollback,
	}
}

// RedisEnabled reports whether a Redis host is configured
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

func (c *Config) Redis() redis.Config {
	return redis.Config{Host: c.RedisHost, Port: c.RedisPort, Password: c.RedisPassword, DB: c.RedisDB}
}

func (c *Config) KafkaConsumer() kafka.ConsumerConfig {
	return kafka.ConsumerConfig{
		Brokers:       c.KafkaBrokers,
		Topic:         c.KafkaEmployeesTopic,
		ConsumerGroup: c.KafkaConsumerGroup,
	}
}

func (c *Config) KafkaProducer() kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:      c.KafkaBrokers,
		Topic:        c.KafkaMatchEventTopic,
		BatchSize:    c.KafkaBatchSize,
		BatchTimeout: c.KafkaBatchTimeout,
		RequiredAcks: c.KafkaRequiredAcks,
		Compression:  c.KafkaCompression,
	}
}

// GraphEnabled reports whether the graph projection is configured
func (c *Config) GraphEnabled() bool {
	return c.GraphHost != ""
}

func (c *Config) Graph() graph.Config {
	return graph.Config{Host: c.GraphHost, Port: c.GraphPort, Username: c.GraphUsername, Password: c.GraphPassword}
}

func (c *Config) Tracing() tracing.Config {
	return tracing.Config{
		ServiceName: c.AppName,
		Endpoint:    c.TracingEndpoint,
		Protocol:    c.TracingProtocol,
		Insecure:    c.TracingInsecure,
		SampleRatio: c.TracingSampleRatio,
	}
}

// Salts returns the hashing salts. Both salts are required.
func (c *Config) Salts() (*identifiers.Salts, error) {
	salts := &identifiers.Salts{
		Global:        []byte(c.HashSaltGlobal),
		CompanyMaster: []byte(c.HashSaltCompanyMaster),
		Version:       c.HashSaltVersion,
	}
	if err := salts.Validate(); err != nil {
		return nil, err
	}
	return salts, nil
}
