package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "CHECKINBOT_"

// envOverrides are the secrets and deployment knobs that may come from the
// environment instead of the file. Empty values leave the file alone.
type envOverrides struct {
	TelegramToken    string   `env:"TELEGRAM_TOKEN"`
	StorageDriver    string   `env:"STORAGE_DRIVER"`
	StorageDSN       string   `env:"STORAGE_DSN"`
	RedisAddr        string   `env:"REDIS_ADDR"`
	RedisPassword    string   `env:"REDIS_PASSWORD"`
	HTTPToken        string   `env:"HTTP_TOKEN"`
	HTTPAddr         string   `env:"HTTP_ADDR"`
	LogLevel         string   `env:"LOG_LEVEL"`
	EventSinkAMQP    string   `env:"EVENT_SINK_AMQP_URL"`
	EventSinkBrokers []string `env:"EVENT_SINK_BROKERS" envSeparator:","`
}

// ApplyEnv overlays CHECKINBOT_* variables from environ onto cfg. A nil
// environ reads the process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("env: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, o.TelegramToken)
	set(&cfg.Storage.Driver, o.StorageDriver)
	set(&cfg.Storage.DSN, o.StorageDSN)
	set(&cfg.Redis.Addr, o.RedisAddr)
	set(&cfg.Redis.Password, o.RedisPassword)
	set(&cfg.HTTP.Token, o.HTTPToken)
	set(&cfg.HTTP.Addr, o.HTTPAddr)
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.EventSink.AMQPURL, o.EventSinkAMQP)
	if len(o.EventSinkBrokers) > 0 {
		cfg.EventSink.Brokers = o.EventSinkBrokers
	}
	return nil
}
