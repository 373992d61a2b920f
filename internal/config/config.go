package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "STOREFRONT"

type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Log      LogConfig      `mapstructure:"log"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Storage  StorageConfig  `mapstructure:"storage"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Payments PaymentsConfig `mapstructure:"payments"`
	Checkout CheckoutConfig `mapstructure:"checkout"`
}

type ServiceConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type StorageConfig struct {
	// Driver is "mysql" or "memory".
	Driver string `mapstructure:"driver"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	PoolSize int           `mapstructure:"pool_size"`
	CartTTL  time.Duration `mapstructure:"cart_ttl"`
	EventTTL time.Duration `mapstructure:"event_ttl"`
}

type PaymentsConfig struct {
	// Provider is "stripe" or "memory".
	Provider                string        `mapstructure:"provider"`
	SecretKey               string        `mapstructure:"secret_key"`
	WebhookSecret           string        `mapstructure:"webhook_secret"`
	AllowUnverifiedWebhooks bool          `mapstructure:"allow_unverified_webhooks"`
	Breaker                 BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

type CheckoutConfig struct {
	RequireIdempotencyKey bool `mapstructure:"require_idempotency_key"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{Name: "storefront", Env: "dev"},
		Log:     LogConfig{Level: "info"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		GRPC:    GRPCConfig{Addr: ":50051"},
		Storage: StorageConfig{Driver: "mysql"},
		MySQL: MySQLConfig{
			DSN:             "root:root@tcp(localhost:3306)/storefront?parseTime=true&multiStatements=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 100,
			CartTTL:  15 * time.Minute,
			EventTTL: 24 * time.Hour,
		},
		Payments: PaymentsConfig{
			Provider: "memory",
			Breaker:  BreakerConfig{MaxFailures: 5, OpenTimeout: 30 * time.Second},
		},
	}
}

// Load reads defaults, then the optional YAML file at path, then STOREFRONT_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
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

// Validate rejects combinations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "mysql":
		if c.MySQL.DSN == "" {
			return errors.New("config: mysql.dsn is required")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Payments.Provider {
	case "stripe":
		if c.Payments.SecretKey == "" {
			return errors.New("config: payments.secret_key is required for the stripe provider")
		}
		if c.Payments.WebhookSecret == "" && !c.Payments.AllowUnverifiedWebhooks {
			return errors.New("config: payments.webhook_secret is required unless payments.allow_unverified_webhooks is set")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown payments.provider %q", c.Payments.Provider)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("service.name", d.Service.Name)
	v.SetDefault("service.env", d.Service.Env)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.request_timeout", d.HTTP.RequestTimeout)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)
	v.SetDefault("grpc.addr", d.GRPC.Addr)
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("mysql.dsn", d.MySQL.DSN)
	v.SetDefault("mysql.max_open_conns", d.MySQL.MaxOpenConns)
	v.SetDefault("mysql.max_idle_conns", d.MySQL.MaxIdleConns)
	v.SetDefault("mysql.conn_max_lifetime", d.MySQL.ConnMaxLifetime)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.pool_size", d.Redis.PoolSize)
	v.SetDefault("redis.cart_ttl", d.Redis.CartTTL)
	v.SetDefault("redis.event_ttl", d.Redis.EventTTL)
	v.SetDefault("payments.provider", d.Payments.Provider)
	v.SetDefault("payments.secret_key", d.Payments.SecretKey)
	v.SetDefault("payments.webhook_secret", d.Payments.WebhookSecret)
	v.SetDefault("payments.allow_unverified_webhooks", d.Payments.AllowUnverifiedWebhooks)
	v.SetDefault("payments.breaker.max_failures", d.Payments.Breaker.MaxFailures)
	v.SetDefault("payments.breaker.open_timeout", d.Payments.Breaker.OpenTimeout)
	v.SetDefault("checkout.require_idempotency_key", d.Checkout.RequireIdempotencyKey)
}
