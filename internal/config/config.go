package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"staybook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Booking    BookingConfig    `yaml:"booking"`
	Payment    PaymentConfig    `yaml:"payment"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Identity   IdentityConfig   `yaml:"identity"`
	Notify     NotifyConfig     `yaml:"notify"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled         bool           `yaml:"enabled"`
	HeaderAPIKey    string         `yaml:"header_api_key"`
	HeaderRequester string         `yaml:"header_requester"`
	APIKeys         []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type DatabaseConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout_ms"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	GroupID           string   `yaml:"group_id"`
	PaymentTopic      string   `yaml:"payment_topic"`
	ReservationTopic  string   `yaml:"reservation_topic"`
	PublishingEnabled bool     `yaml:"publishing_enabled"`
}

type SchedulerConfig struct {
	SweepInterval string `yaml:"sweep_interval"`
	LockTTL       string `yaml:"lock_ttl"`
}

type BookingConfig struct {
	MaxAdvanceDays int    `yaml:"max_advance_days"`
	LockWait       string `yaml:"lock_wait"`
}

type PaymentConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type CatalogConfig struct {
	ListingsPath   string `yaml:"listings_path"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// CacheTTL включает redis-кэш листингов для base_url; пусто = без кэша.
	CacheTTL string `yaml:"cache_ttl"`
}

type IdentityConfig struct {
	Blacklist []string `yaml:"blacklist"`
	Hosts     []string `yaml:"hosts"`
}

type NotifyConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	MaxRetries     int    `yaml:"max_retries"`
	PollInterval   string `yaml:"poll_interval"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env необязателен, но если он есть, он должен читаться
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Catalog.ListingsPath == "" && c.Catalog.BaseURL == "" {
		return errors.New("catalog needs listings_path or base_url")
	}
	if c.Catalog.CacheTTL != "" {
		if _, err := time.ParseDuration(c.Catalog.CacheTTL); err != nil {
			return fmt.Errorf("catalog.cache_ttl: %w", err)
		}
	}

	if _, err := time.ParseDuration(c.Scheduler.SweepInterval); err != nil {
		return fmt.Errorf("scheduler.sweep_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.Scheduler.LockTTL); err != nil {
		return fmt.Errorf("scheduler.lock_ttl: %w", err)
	}

	if _, err := time.ParseDuration(c.Booking.LockWait); err != nil {
		return fmt.Errorf("booking.lock_wait: %w", err)
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

// SweepInterval returns the parsed sweep period; Validate guarantees it parses.
func (c *Config) SweepInterval() time.Duration {
	d, _ := time.ParseDuration(c.Scheduler.SweepInterval)
	return d
}

func (c *Config) LockTTL() time.Duration {
	d, _ := time.ParseDuration(c.Scheduler.LockTTL)
	return d
}

func (c *Config) LockWait() time.Duration {
	d, _ := time.ParseDuration(c.Booking.LockWait)
	return d
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "staybook"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderRequester == "" {
		c.API.Auth.HeaderRequester = "x-requester-id"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = models.RateLimitRPS
	}

	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5000
	}

	if c.Scheduler.SweepInterval == "" {
		c.Scheduler.SweepInterval = (time.Duration(models.DefaultSweepInterval) * time.Second).String()
	}
	if c.Scheduler.LockTTL == "" {
		c.Scheduler.LockTTL = (time.Duration(models.DefaultLockTTL) * time.Second).String()
	}

	if c.Booking.MaxAdvanceDays == 0 {
		c.Booking.MaxAdvanceDays = 365
	}
	if c.Booking.LockWait == "" {
		c.Booking.LockWait = "3s"
	}

	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "staybook-reservations"
	}
	if c.Kafka.PaymentTopic == "" {
		c.Kafka.PaymentTopic = "payment-events"
	}
	if c.Kafka.ReservationTopic == "" {
		c.Kafka.ReservationTopic = "reservation-events"
	}

	if c.Payment.TimeoutSeconds == 0 {
		c.Payment.TimeoutSeconds = 10
	}
	if c.Catalog.TimeoutSeconds == 0 {
		c.Catalog.TimeoutSeconds = 5
	}

	if c.Notify.MaxRetries == 0 {
		c.Notify.MaxRetries = 5
	}
	if c.Notify.PollInterval == "" {
		c.Notify.PollInterval = "2s"
	}
	if c.Notify.TimeoutSeconds == 0 {
		c.Notify.TimeoutSeconds = 10
	}
}
