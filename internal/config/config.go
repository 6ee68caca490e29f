package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime configuration for the service.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Propagation PropagationConfig `mapstructure:"propagation"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	// Node identifier stamped on audit events; hostname when empty
	NodeID string `mapstructure:"node_id"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxBodySize  int64         `mapstructure:"max_body_size"`
}

// StorageConfig selects the record store: memory, sqlite or mysql
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
	Debug   bool   `mapstructure:"debug"`
}

// RedisConfig enables the distributed per-aircraft lock when Enabled
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// KafkaConfig configures the audit event stream
type KafkaConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Brokers  []string       `mapstructure:"brokers"`
	Topic    string         `mapstructure:"topic"`
	Producer ProducerConfig `mapstructure:"producer"`
}

// ProducerConfig tunes the kafka writer pool and the audit worker pool
type ProducerConfig struct {
	PoolSize     int           `mapstructure:"pool_size"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
	Compression  string        `mapstructure:"compression"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	QueueSize    int           `mapstructure:"queue_size"`
}

// PropagationConfig tunes the propagation coordinator
type PropagationConfig struct {
	// Workers bounds concurrent component updates within one aircraft
	Workers int `mapstructure:"workers"`
	// AllowDecrease permits downward corrections of aircraft hours
	AllowDecrease bool `mapstructure:"allow_decrease"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:     "semaforo",
			Env:      "development",
			LogLevel: "info",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodySize:  1 << 20,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			LockTTL: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "semaforo.audit",
			Producer: ProducerConfig{
				PoolSize:     2,
				BatchSize:    50,
				BatchTimeout: 200 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
				QueueSize:    1000,
			},
		},
		Propagation: PropagationConfig{
			Workers:       8,
			AllowDecrease: true,
		},
	}
}

// Load reads a YAML file (optional) and SEMAFORO_* environment overrides on
// top of Default().
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("SEMAFORO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("app.name", d.App.Name)
	v.SetDefault("app.env", d.App.Env)
	v.SetDefault("app.log_level", d.App.LogLevel)
	v.SetDefault("app.node_id", d.App.NodeID)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("storage.debug", d.Storage.Debug)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.lock_ttl", d.Redis.LockTTL)

	v.SetDefault("kafka.enabled", d.Kafka.Enabled)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("kafka.producer.pool_size", d.Kafka.Producer.PoolSize)
	v.SetDefault("kafka.producer.batch_size", d.Kafka.Producer.BatchSize)
	v.SetDefault("kafka.producer.batch_timeout", d.Kafka.Producer.BatchTimeout)
	v.SetDefault("kafka.producer.write_timeout", d.Kafka.Producer.WriteTimeout)
	v.SetDefault("kafka.producer.required_acks", d.Kafka.Producer.RequiredAcks)
	v.SetDefault("kafka.producer.compression", d.Kafka.Producer.Compression)
	v.SetDefault("kafka.producer.max_retries", d.Kafka.Producer.MaxRetries)
	v.SetDefault("kafka.producer.retry_backoff", d.Kafka.Producer.RetryBackoff)
	v.SetDefault("kafka.producer.queue_size", d.Kafka.Producer.QueueSize)

	v.SetDefault("propagation.workers", d.Propagation.Workers)
	v.SetDefault("propagation.allow_decrease", d.Propagation.AllowDecrease)
}

// Validate checks the config is internally consistent
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "sqlite", "mysql":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage dsn is required for backend %q", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Server.Addr == "" {
		return errors.New("server addr is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis addr is required when redis is enabled")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("at least one kafka broker is required")
		}
		if c.Kafka.Topic == "" {
			return errors.New("kafka topic is required")
		}
	}
	if c.Propagation.Workers <= 0 {
		return errors.New("propagation workers must be positive")
	}
	return nil
}
