package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/veridianlabs/nftmarket/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Enabled switches the payment-token whitelist from the in-memory
	// set to the shared Redis set.
	Enabled bool
}

type KafkaTopics struct {
	Approvals  string
	Transfers  string
	Payments   string
	DeadLetter string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
}

type AssetServiceConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type MarketConfig struct {
	// Owner is the operator account allowed to approve payment tokens.
	Owner string
	// StorageCostPerSale is the quota units one active listing pins.
	StorageCostPerSale int64
	// NotifierKeys authorize peer-service callbacks, one
	// "notifier_account=api_key" entry per service.
	NotifierKeys []string
}

type JWTConfig struct {
	Secret string
}

type Config struct {
	App          base.AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	AssetService AssetServiceConfig
	Market       MarketConfig
	JWT          JWTConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("MARKET_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "nftmarket"),
			User:     envString("POSTGRES_USER", "nftmarket"),
			Password: envString("POSTGRES_PASSWORD", "nftmarket"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", "localhost:6379"),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
			Enabled:  envBool("REDIS_ENABLED", false),
		},
		Kafka: KafkaConfig{
			Brokers:       envCSV("KAFKA_BROKERS", []string{"localhost:9092"}),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", "marketplace-service"),
			Topics: KafkaTopics{
				Approvals:  envString("KAFKA_APPROVALS_TOPIC", "nft.approvals"),
				Transfers:  envString("KAFKA_TRANSFERS_TOPIC", "ft.transfers"),
				Payments:   envString("KAFKA_PAYMENTS_TOPIC", "payments.requested"),
				DeadLetter: envString("KAFKA_DLQ_TOPIC", "marketplace.dead-letter"),
			},
		},
		AssetService: AssetServiceConfig{
			BaseURL: envString("ASSET_SERVICE_URL", "http://localhost:8081"),
			APIKey:  envString("ASSET_SERVICE_API_KEY", ""),
			Timeout: envDuration("ASSET_SERVICE_TIMEOUT", 10*time.Second),
		},
		Market: MarketConfig{
			Owner:              envString("MARKET_OWNER_ACCOUNT", ""),
			StorageCostPerSale: envInt64("MARKET_STORAGE_COST_PER_SALE", 10000),
			NotifierKeys:       envCSV("MARKET_NOTIFIER_KEYS", nil),
		},
		JWT: JWTConfig{
			Secret: envString("MARKET_JWT_SECRET", ""),
		},
	}

	if cfg.Market.Owner == "" {
		return nil, fmt.Errorf("MARKET_OWNER_ACCOUNT required")
	}
	if cfg.Market.StorageCostPerSale <= 0 {
		return nil, fmt.Errorf("MARKET_STORAGE_COST_PER_SALE must be positive")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("MARKET_JWT_SECRET required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.AssetService.BaseURL == "" {
		return nil, fmt.Errorf("ASSET_SERVICE_URL required")
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
