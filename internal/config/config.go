package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App      App      `yaml:"app"`
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Ack      Ack      `yaml:"ack"`
	Retry    Retry    `yaml:"retry"`
	Cache    Cache    `yaml:"cache"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"inventory-consumer"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"inventory_db"`
}

type Redis struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
}

type Kafka struct {
	Brokers          []string      `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic            string        `yaml:"topic" env:"KAFKA_TOPIC" env-default:"core-events"`
	GroupID          string        `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"inventory-consumer-group-1"`
	Concurrency      int           `yaml:"concurrency" env:"KAFKA_CONCURRENCY" env-default:"3"`
	MaxAttempts      int           `yaml:"max_attempts" env:"KAFKA_MAX_ATTEMPTS" env-default:"5"`
	Backoff          time.Duration `yaml:"backoff" env:"KAFKA_BACKOFF" env-default:"2s"`
	DeadLetter       bool          `yaml:"dead_letter" env:"KAFKA_DEAD_LETTER" env-default:"true"`
	DeadLetterSuffix string        `yaml:"dead_letter_suffix" env:"KAFKA_DEAD_LETTER_SUFFIX" env-default:".dlq"`
}

type Ack struct {
	BaseURL string        `yaml:"base_url" env:"ACK_BASE_URL" env-default:"http://localhost:9000"`
	Timeout time.Duration `yaml:"timeout" env:"ACK_TIMEOUT" env-default:"5s"`
}

// Retry configures the reconciliation scheduler, not broker redelivery.
type Retry struct {
	Interval    time.Duration `yaml:"interval" env:"RETRY_INTERVAL" env-default:"4h"`
	Cooldown    time.Duration `yaml:"cooldown" env:"RETRY_COOLDOWN" env-default:"1h"`
	MaxAttempts int           `yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS" env-default:"10"`
}

type Cache struct {
	Size int           `yaml:"size" env:"CACHE_SIZE" env-default:"10000"`
	TTL  time.Duration `yaml:"ttl" env:"CACHE_TTL" env-default:"24h"`
}

func New() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// fallback to env vars if file not found
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else {
		// Allow env vars to override config file
		cleanenv.ReadEnv(cfg)
	}

	return cfg, nil
}
