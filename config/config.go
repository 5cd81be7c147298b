package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	ServiceBus    ServiceBusConfig    `mapstructure:"servicebus"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	NewRelic      NewRelicConfig      `mapstructure:"newrelic"`
	Linker        LinkerConfig        `mapstructure:"linker"`
	Billing       BillingConfig       `mapstructure:"billing"`
	Undo          UndoConfig          `mapstructure:"undo"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Name        string        `mapstructure:"name"`
	SSLMode     string        `mapstructure:"ssl_mode"`
	MaxConn     int           `mapstructure:"max_conn"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLife     time.Duration `mapstructure:"max_life"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	Debug       bool          `mapstructure:"debug"`
}

// RedisConfig holds the Redis configuration
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ServiceBusConfig holds the Azure Service Bus configuration
type ServiceBusConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	ConnectionString string `mapstructure:"connection_string"`
	AuditQueue       string `mapstructure:"audit_queue"`
	Prefix           string `mapstructure:"prefix"`
}

// ElasticsearchConfig holds the Elasticsearch configuration
type ElasticsearchConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	URLs     []string `mapstructure:"urls"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	Index    string   `mapstructure:"index"`
}

// NewRelicConfig holds the New Relic configuration
type NewRelicConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AppName    string `mapstructure:"app_name"`
	LicenseKey string `mapstructure:"license_key"`
}

// LinkerConfig holds the capacity settings for the linker
type LinkerConfig struct {
	ParentCapacity int `mapstructure:"parent_capacity"`
}

// BillingConfig holds the bill weight settings
type BillingConfig struct {
	UnitWeight float64 `mapstructure:"unit_weight"`
}

// UndoConfig holds the undo window settings
type UndoConfig struct {
	Window time.Duration `mapstructure:"window"`
}

// LoggingConfig holds the logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

var configFile string

// SetConfigFile overrides the config file location
func SetConfigFile(file string) {
	configFile = file
}

// Load loads the configuration from file and environment variables
func Load() (*Config, error) {
	var config Config

	viper.SetConfigType("yaml")
	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("BAGTRACK")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults and env apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error loading configuration: %w", err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling configuration: %w", err)
	}

	return &config, nil
}

// Set default configuration values
func setDefaults() {
	// HTTP Server
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.name", "bagtrack")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_conn", 25)
	viper.SetDefault("database.max_idle", 5)
	viper.SetDefault("database.max_life", "30m")
	viper.SetDefault("database.lock_timeout", "3s")

	// Redis
	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttl", "30s")

	// Azure Service Bus
	viper.SetDefault("servicebus.enabled", false)
	viper.SetDefault("servicebus.audit_queue", "bag-mutations")

	// Elasticsearch
	viper.SetDefault("elasticsearch.enabled", false)
	viper.SetDefault("elasticsearch.urls", []string{"http://localhost:9200"})
	viper.SetDefault("elasticsearch.index", "bag-mutations")

	// New Relic
	viper.SetDefault("newrelic.enabled", false)
	viper.SetDefault("newrelic.app_name", "Bag Tracking Core")

	// Domain settings
	viper.SetDefault("linker.parent_capacity", 30)
	viper.SetDefault("billing.unit_weight", 1.0)
	viper.SetDefault("undo.window", "1h")

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.json", true)
}
