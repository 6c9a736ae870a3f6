package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported event brokers for the audit relay.
const (
	BrokerNone  = "none"
	BrokerKafka = "kafka"
	BrokerNATS  = "nats"
)

type AppConfig struct {
	Name string `yaml:"name" env:"APP_NAME"`
	Port string `yaml:"port" env:"APP_PORT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"` // console | json
}

type PostgresConfig struct {
	Host            string        `yaml:"host" env:"DB_HOST"`
	Port            string        `yaml:"port" env:"DB_PORT"`
	User            string        `yaml:"user" env:"DB_USER"`
	Password        string        `yaml:"password" env:"DB_PASSWORD"`
	DBName          string        `yaml:"dbname" env:"DB_NAME"`
	SSLMode         string        `yaml:"sslmode" env:"DB_SSLMODE"`
	MaxConns        int32         `yaml:"max_conns" env:"DB_MAX_CONNS"`
	MinConns        int32         `yaml:"min_conns" env:"DB_MIN_CONNS"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"DB_MAX_CONN_LIFETIME"`
}

type CatalogConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CATALOG_CACHE_TTL"`
}

type EventsConfig struct {
	Broker        string        `yaml:"broker" env:"EVENTS_BROKER"`
	KafkaBrokers  []string      `yaml:"kafka_brokers" env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic    string        `yaml:"kafka_topic" env:"KAFKA_TOPIC"`
	NATSURL       string        `yaml:"nats_url" env:"NATS_URL"`
	NATSSubject   string        `yaml:"nats_subject" env:"NATS_SUBJECT"`
	RelayInterval time.Duration `yaml:"relay_interval" env:"RELAY_INTERVAL"`
	RelayBatch    int           `yaml:"relay_batch" env:"RELAY_BATCH"`
}

type Config struct {
	App      AppConfig      `yaml:"app"`
	Log      LogConfig      `yaml:"log"`
	Postgres PostgresConfig `yaml:"postgres"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Events   EventsConfig   `yaml:"events"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name: "order-ledger",
			Port: "8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            "5432",
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
		},
		Catalog: CatalogConfig{
			CacheTTL: 60 * time.Second,
		},
		Events: EventsConfig{
			Broker:        BrokerNone,
			KafkaTopic:    "ledger.events",
			NATSSubject:   "ledger.events",
			RelayInterval: 2 * time.Second,
			RelayBatch:    100,
		},
	}
}

// Load builds the configuration in layers: defaults, the optional YAML file,
// the optional dotenv file and finally the process environment.
func Load(configPath, envPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file: %w", err)
		}
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.Events.Broker = strings.ToLower(strings.TrimSpace(cfg.Events.Broker))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.App.Port == "" {
		return errors.New("app.port is required")
	}
	if c.Postgres.Host == "" {
		return errors.New("postgres.host is required")
	}
	if c.Postgres.User == "" {
		return errors.New("postgres.user is required")
	}
	if c.Postgres.DBName == "" {
		return errors.New("postgres.dbname is required")
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("postgres.min_conns (%d) exceeds max_conns (%d)", c.Postgres.MinConns, c.Postgres.MaxConns)
	}
	if c.Catalog.CacheTTL <= 0 {
		return errors.New("catalog.cache_ttl must be positive")
	}

	switch c.Events.Broker {
	case BrokerNone, "":
		c.Events.Broker = BrokerNone
	case BrokerKafka:
		if len(c.Events.KafkaBrokers) == 0 {
			return errors.New("events.kafka_brokers is required for the kafka broker")
		}
	case BrokerNATS:
		if c.Events.NATSURL == "" {
			return errors.New("events.nats_url is required for the nats broker")
		}
	default:
		return fmt.Errorf("unknown events.broker %q", c.Events.Broker)
	}

	if c.Events.Broker != BrokerNone && c.Events.RelayInterval <= 0 {
		return errors.New("events.relay_interval must be positive")
	}

	return nil
}

// ConnString returns a key/value DSN understood by pgx.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// MigrateURL returns the URL form expected by the golang-migrate pgx/v5 driver.
func (p PostgresConfig) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + p.Port,
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	return u.String()
}
