package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	base "github.com/BraydenSmith1/kora/libs/config"
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

type KafkaTopics struct {
	OrdersPosted  string
	TradesSettled string
	DeadLetter    string
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
}

type ChainConfig struct {
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	ReceiptTimeout  time.Duration
}

// Enabled means all three chain settings are present; otherwise the mock
// notary stands in.
func (c ChainConfig) Enabled() bool {
	return c.RPCURL != "" && c.PrivateKey != "" && c.ContractAddress != ""
}

type RedisConfig struct {
	Addr    string
	LockTTL time.Duration
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type Config struct {
	App   base.AppConfig
	DB    DBConfig
	Kafka KafkaConfig
	Chain ChainConfig
	Redis RedisConfig
	Auth  AuthConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("KORA_CONFIG"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("KORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("KORA_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "kora-match")
	v.SetDefault("kafka.topics.orders_posted", "orders.posted")
	v.SetDefault("kafka.topics.trades_settled", "trades.settled")
	v.SetDefault("kafka.topics.dead_letter", "kora.dead_letter")

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "kora_market"),
			User:     envString("POSTGRES_USER", "kora"),
			Password: envString("POSTGRES_PASSWORD", "kora"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Enabled:       envBool("KAFKA_ENABLED", v.GetBool("kafka.enabled")),
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Topics: KafkaTopics{
				OrdersPosted:  envString("KAFKA_ORDERS_TOPIC", v.GetString("kafka.topics.orders_posted")),
				TradesSettled: envString("KAFKA_TRADES_TOPIC", v.GetString("kafka.topics.trades_settled")),
				DeadLetter:    envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Chain: ChainConfig{
			RPCURL:          envString("CHAIN_RPC_URL", ""),
			PrivateKey:      envString("CHAIN_PRIVATE_KEY", ""),
			ContractAddress: envString("CHAIN_CONTRACT_ADDRESS", ""),
			ReceiptTimeout:  envDuration("CHAIN_RECEIPT_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:    envString("REDIS_ADDR", ""),
			LockTTL: envDuration("REDIS_LOCK_TTL", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: envString("KORA_JWT_SECRET", "dev-secret-change-me"),
			TokenTTL:  envDuration("KORA_TOKEN_TTL", 24*time.Hour),
		},
	}

	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka brokers required")
		}
		if cfg.Kafka.ConsumerGroup == "" {
			return nil, fmt.Errorf("kafka consumer group required")
		}
		if cfg.Kafka.Topics.OrdersPosted == "" || cfg.Kafka.Topics.TradesSettled == "" {
			return nil, fmt.Errorf("kafka topics required")
		}
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret required")
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
