package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration assembled from the environment.
type Config struct {
	Port           string
	Env            string
	RequestTimeout time.Duration
	JWTSecret      string

	Database   DatabaseConfig
	Redis      RedisConfig
	Conversion ConversionConfig
	Providers  ProvidersConfig
	Kafka      KafkaConfig

	AccountCacheTTL   time.Duration
	PendingStaleAfter time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN returns the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type ConversionConfig struct {
	RateSourceURL string
	RateCacheTTL  time.Duration
	FeeBps        int64
	FeeSchedule   *FeeSchedule
}

type ProvidersConfig struct {
	Timeout time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string

	PaystackSecretKey   string
	PaystackBaseURL     string
	PaystackCallbackURL string

	PaypalClientID     string
	PaypalClientSecret string
	PaypalBaseURL      string
	PaypalReturnURL    string
	PaypalCancelURL    string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LoadEnv loads variables from a .env file if present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found: %v", err)
	}
}

// Load reads the configuration. Provider calls must time out before the
// request that issued them, so a PROVIDER_TIMEOUT not shorter than
// REQUEST_TIMEOUT is rejected.
func Load() (*Config, error) {
	LoadEnv()

	requestTimeout, err := GetDurationEnv("REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	providerTimeout, err := GetDurationEnv("PROVIDER_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	if providerTimeout >= requestTimeout {
		return nil, fmt.Errorf("PROVIDER_TIMEOUT (%s) must be shorter than REQUEST_TIMEOUT (%s)", providerTimeout, requestTimeout)
	}
	connMaxLifetime, err := GetDurationEnv("DB_CONN_MAX_LIFETIME", time.Hour)
	if err != nil {
		return nil, err
	}
	connMaxIdleTime, err := GetDurationEnv("DB_CONN_MAX_IDLE_TIME", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	rateCacheTTL, err := GetDurationEnv("RATE_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, err
	}
	accountCacheTTL, err := GetDurationEnv("ACCOUNT_CACHE_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	staleAfter, err := GetDurationEnv("PENDING_STALE_AFTER", 2*time.Hour)
	if err != nil {
		return nil, err
	}

	feeBps := int64(GetIntEnv("CONVERSION_FEE_BPS", 100))
	if feeBps < 0 || feeBps >= 10_000 {
		return nil, fmt.Errorf("CONVERSION_FEE_BPS must be in [0, 10000), got %d", feeBps)
	}

	var schedule *FeeSchedule
	if path := GetEnv("FEE_SCHEDULE_FILE", ""); path != "" {
		schedule, err = LoadFeeSchedule(path)
		if err != nil {
			return nil, err
		}
	}

	return &Config{
		Port:           GetEnv("PORT", "3000"),
		Env:            GetEnv("ENV", "development"),
		RequestTimeout: requestTimeout,
		JWTSecret:      GetEnv("JWT_SECRET", ""),
		Database: DatabaseConfig{
			Host:            GetEnv("DB_HOST", "localhost"),
			Port:            GetEnv("DB_PORT", "5432"),
			User:            GetEnv("DB_USER", "postgres"),
			Password:        GetEnv("DB_PASSWORD", "postgres"),
			Name:            GetEnv("DB_NAME", "fxwallet"),
			SSLMode:         GetEnv("DB_SSLMODE", "disable"),
			MaxIdleConns:    GetIntEnv("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    GetIntEnv("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetIntEnv("REDIS_DB", 0),
		},
		Conversion: ConversionConfig{
			RateSourceURL: GetEnv("RATE_SOURCE_URL", "https://api.exchangerate-api.com/v4/latest"),
			RateCacheTTL:  rateCacheTTL,
			FeeBps:        feeBps,
			FeeSchedule:   schedule,
		},
		Providers: ProvidersConfig{
			Timeout:             providerTimeout,
			StripeSecretKey:     GetEnv("STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret: GetEnv("STRIPE_WEBHOOK_SECRET", ""),
			StripeSuccessURL:    GetEnv("STRIPE_SUCCESS_URL", "http://localhost:5173/topup/success"),
			StripeCancelURL:     GetEnv("STRIPE_CANCEL_URL", "http://localhost:5173/topup/cancel"),
			PaystackSecretKey:   GetEnv("PAYSTACK_SECRET_KEY", ""),
			PaystackBaseURL:     GetEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			PaystackCallbackURL: GetEnv("PAYSTACK_CALLBACK_URL", "http://localhost:5173/topup/callback"),
			PaypalClientID:      GetEnv("PAYPAL_CLIENT_ID", ""),
			PaypalClientSecret:  GetEnv("PAYPAL_CLIENT_SECRET", ""),
			PaypalBaseURL:       GetEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
			PaypalReturnURL:     GetEnv("PAYPAL_RETURN_URL", "http://localhost:5173/topup/paypal/return"),
			PaypalCancelURL:     GetEnv("PAYPAL_CANCEL_URL", "http://localhost:5173/topup/paypal/cancel"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(GetEnv("KAFKA_BROKERS", "")),
			Topic:   GetEnv("KAFKA_TOPIC", "wallet.transactions"),
		},
		AccountCacheTTL:   accountCacheTTL,
		PendingStaleAfter: staleAfter,
	}, nil
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetDurationEnv returns a duration environment variable or a default value.
func GetDurationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// IsProduction checks if the app runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
