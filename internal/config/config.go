package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Codes   CodesConfig   `mapstructure:"codes"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`
	WorkerID int64  `mapstructure:"worker_id"`
}

type StorageConfig struct {
	Driver      string        `mapstructure:"driver"` // mysql | memory
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type NotifyConfig struct {
	Provider string      `mapstructure:"provider"` // kafka | nats | none
	Topic    string      `mapstructure:"topic"`
	Kafka    KafkaConfig `mapstructure:"kafka"`
	NATS     NATSConfig  `mapstructure:"nats"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// FeeRule is a fixed fee plus a percentage of the amount. Percentage is a
// decimal string such as "1.5".
type FeeRule struct {
	Fixed      int64  `mapstructure:"fixed"`
	Percentage string `mapstructure:"percentage"`
}

type AmountBounds struct {
	Min int64 `mapstructure:"min"`
	Max int64 `mapstructure:"max"`
}

type LedgerConfig struct {
	MinAmount       int64                         `mapstructure:"min_amount"`
	MaxAmount       int64                         `mapstructure:"max_amount"`
	Bounds          map[string]AmountBounds       `mapstructure:"bounds"`
	Fees            map[string]map[string]FeeRule `mapstructure:"fees"`
	DailyLimits     map[string]int64              `mapstructure:"daily_limits"`
	DailyWindowTZ   string                        `mapstructure:"daily_window_tz"`
	DistributedLock bool                          `mapstructure:"distributed_lock"`
}

type CodesConfig struct {
	Prefix              string        `mapstructure:"prefix"`
	RandomLength        int           `mapstructure:"random_length"`
	DefaultExpiry       time.Duration `mapstructure:"default_expiry"`
	MaxGenerateAttempts int           `mapstructure:"max_generate_attempts"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type JobsConfig struct {
	OutboxInterval    time.Duration `mapstructure:"outbox_interval"`
	OutboxBatch       int           `mapstructure:"outbox_batch"`
	MaxRetryCount     int           `mapstructure:"max_retry_count"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("storage.driver", "mysql")
	v.SetDefault("storage.lock_timeout", 3*time.Second)
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("redis.cache_ttl", 5*time.Minute)
	v.SetDefault("notify.provider", "none")
	v.SetDefault("notify.topic", "ledger.transaction")
	v.SetDefault("ledger.min_amount", 1)
	v.SetDefault("ledger.daily_window_tz", "UTC")
	v.SetDefault("codes.prefix", "AUTH")
	v.SetDefault("codes.random_length", 8)
	v.SetDefault("codes.default_expiry", 24*time.Hour)
	v.SetDefault("codes.max_generate_attempts", 5)
	v.SetDefault("jobs.outbox_interval", 5*time.Second)
	v.SetDefault("jobs.outbox_batch", 100)
	v.SetDefault("jobs.max_retry_count", 5)
	v.SetDefault("jobs.reconcile_interval", 10*time.Minute)
}

// LoadConfig reads .env (if present) and then the YAML file at configPath.
// Environment variables prefixed COREBANK_ override file keys, e.g.
// COREBANK_MYSQL_PASSWORD overrides mysql.password.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file loaded")
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("COREBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "mysql", "memory":
	default:
		return fmt.Errorf("storage.driver must be mysql or memory, got %q", c.Storage.Driver)
	}
	switch c.Notify.Provider {
	case "kafka", "nats", "none":
	default:
		return fmt.Errorf("notify.provider must be kafka, nats or none, got %q", c.Notify.Provider)
	}
	if c.Ledger.MaxAmount > 0 && c.Ledger.MinAmount > c.Ledger.MaxAmount {
		return fmt.Errorf("ledger.min_amount %d exceeds ledger.max_amount %d", c.Ledger.MinAmount, c.Ledger.MaxAmount)
	}
	if _, err := time.LoadLocation(c.Ledger.DailyWindowTZ); err != nil {
		return fmt.Errorf("ledger.daily_window_tz: %w", err)
	}
	if c.Codes.RandomLength <= 0 {
		return fmt.Errorf("codes.random_length must be positive")
	}
	return nil
}
