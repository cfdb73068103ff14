package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the quote monitoring system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Search    SearchConfig    `mapstructure:"search"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains adjudicator and embedding provider settings
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"` // openai
	APIKey          string        `mapstructure:"api_key"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" && strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) == "" {
		return fmt.Errorf("llm.api_key required (or set OPENAI_API_KEY)")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// SearchConfig contains live search and feed cache settings
type SearchConfig struct {
	Exa     ExaConfig     `mapstructure:"exa"`
	Serper  SerperConfig  `mapstructure:"serper"`
	NewsAPI NewsAPIConfig `mapstructure:"newsapi"`
	Domains []string      `mapstructure:"domains"`
	// Fetcher selects how candidate pages are fetched for match evaluation:
	// "http" or "chromedp" for javascript-heavy outlets.
	Fetcher   string          `mapstructure:"fetcher"`
	FeedCache FeedCacheConfig `mapstructure:"feed_cache"`
}

func (s SearchConfig) Validate() error {
	if strings.TrimSpace(s.Exa.APIKey) == "" && strings.TrimSpace(s.Serper.APIKey) == "" {
		return fmt.Errorf("search requires at least one of exa.api_key or serper.api_key")
	}
	return nil
}

// ExaConfig contains Exa search settings
type ExaConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// SerperConfig contains Serper search settings
type SerperConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// NewsAPIConfig contains NewsAPI settings for the feed cache
type NewsAPIConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
	PageSize int    `mapstructure:"page_size"`
}

// FeedCacheConfig controls the in-memory feed index refresh loop
type FeedCacheConfig struct {
	Schedule string        `mapstructure:"schedule"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN assembles a connection string from the discrete fields when URL is unset.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, sslmode)
}

// SchedulerConfig controls the monitoring loop
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	BatchLimit   int           `mapstructure:"batch_limit"`
	MaxWorkers   int           `mapstructure:"max_workers"`
	QuoteTimeout time.Duration `mapstructure:"quote_timeout"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
	DeferBackoff time.Duration `mapstructure:"defer_backoff"`
}

func (s SchedulerConfig) Validate() error {
	if s.MaxWorkers < 0 {
		return fmt.Errorf("scheduler.max_workers cannot be negative")
	}
	if s.BatchLimit < 0 {
		return fmt.Errorf("scheduler.batch_limit cannot be negative")
	}
	return nil
}

// NotifyConfig contains hit notification settings
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Recipients []string      `mapstructure:"recipients"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("server.address", ":10001")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.completion_model", "gpt-4o-mini")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.timeout", 45*time.Second)
	viper.SetDefault("search.fetcher", "http")
	viper.SetDefault("search.feed_cache.schedule", "@hourly")
	viper.SetDefault("search.feed_cache.ttl", 48*time.Hour)
	viper.SetDefault("scheduler.tick_interval", 5*time.Minute)
	viper.SetDefault("scheduler.batch_limit", 100)
	viper.SetDefault("scheduler.max_workers", 4)
	viper.SetDefault("scheduler.quote_timeout", 2*time.Minute)
	viper.SetDefault("scheduler.lease_ttl", 10*time.Minute)
	viper.SetDefault("scheduler.defer_backoff", 15*time.Minute)
	viper.SetDefault("notify.timeout", 10*time.Second)

	if path == "" {
		viper.AddConfigPath("./app/config") // path to look for the config file in
		viper.AddConfigPath("./config")     // path to look for the config file in
		viper.AddConfigPath(".")            // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("QUOTEWATCH")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (QUOTEWATCH_*)

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	// unmarshal config
	var config Config

	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Scheduler.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	return &config
}
