package config

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Logger  LoggerConfig  `mapstructure:"logger"`
	Prices  PricesConfig  `mapstructure:"prices"`
	Updater UpdaterConfig `mapstructure:"updater"`
	Push    PushConfig    `mapstructure:"push"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

// Addr returns the listen address for the HTTP server.
func (a AppConfig) Addr() string {
	if strings.Contains(a.Port, ":") {
		return a.Port
	}
	return ":" + a.Port
}

type PricesConfig struct {
	// Seed entries are "SYMBOL=PRICE". A list keeps symbol case intact, viper lowercases map keys.
	Seed []string `mapstructure:"seed"`
}

type UpdaterConfig struct {
	MinStep           int           `mapstructure:"min_step"`
	MaxStep           int           `mapstructure:"max_step"`
	StepScale         float64       `mapstructure:"step_scale"`
	MinDelay          time.Duration `mapstructure:"min_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	PriceFloorEnabled bool          `mapstructure:"price_floor_enabled"`
	PriceFloor        float64       `mapstructure:"price_floor"`
	RestartOnFailure  bool          `mapstructure:"restart_on_failure"`
	RestartBackoff    time.Duration `mapstructure:"restart_backoff"`
}

type PushConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type GatewayConfig struct {
	SendBuffer     int           `mapstructure:"send_buffer"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	NotifyErrors   bool          `mapstructure:"notify_errors"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TTL       time.Duration `mapstructure:"ttl"`
	WarmStart bool          `mapstructure:"warm_start"`
}

type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	Topic       string   `mapstructure:"topic"`
	CreateTopic bool     `mapstructure:"create_topic"`
}

// LoadConfig reads configuration from .env file, an optional config.yaml, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Load .env file into System Environment (if it exists)
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	// 2. Set Defaults
	setDefaults(v)

	// 3. Optional config file in the working directory
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
	}

	// 4. Environment Variables ("updater.min_delay" -> "UPDATER_MIN_DELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnv(v, "app.env")
	bindEnv(v, "logger.level", "logger.encoding")
	bindEnv(v, "prices.seed")
	bindEnv(v, "updater.min_step", "updater.max_step", "updater.step_scale", "updater.min_delay", "updater.max_delay",
		"updater.price_floor_enabled", "updater.price_floor", "updater.restart_on_failure", "updater.restart_backoff")
	bindEnv(v, "push.interval")
	bindEnv(v, "gateway.send_buffer", "gateway.max_message_size", "gateway.write_wait", "gateway.pong_wait",
		"gateway.ping_period", "gateway.notify_errors")
	bindEnv(v, "redis.enabled", "redis.addr", "redis.password", "redis.db", "redis.ttl", "redis.warm_start")
	bindEnv(v, "kafka.enabled", "kafka.brokers", "kafka.topic", "kafka.create_topic")

	// PORT is what most platforms inject, APP_PORT wins when both are set
	if err := v.BindEnv("app.port", "APP_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("unable to bind port env: %w", err)
	}

	// 5. Unmarshal into Struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	// 6. Validation
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "3005")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("prices.seed", []string{"AAPL=95.0", "MSFT=50.0", "AMZN=300.0", "GOOG=550.0", "YHOO=35.0", "FB=75.0"})

	v.SetDefault("updater.min_step", -150)
	v.SetDefault("updater.max_step", 150)
	v.SetDefault("updater.step_scale", 100.0)
	v.SetDefault("updater.min_delay", 500*time.Millisecond)
	v.SetDefault("updater.max_delay", 2500*time.Millisecond)
	v.SetDefault("updater.price_floor_enabled", false)
	v.SetDefault("updater.price_floor", 0.01)
	v.SetDefault("updater.restart_on_failure", false)
	v.SetDefault("updater.restart_backoff", 5*time.Second)

	v.SetDefault("push.interval", time.Second)

	v.SetDefault("gateway.send_buffer", 256)
	v.SetDefault("gateway.max_message_size", 512*1024)
	v.SetDefault("gateway.write_wait", 5*time.Second)
	v.SetDefault("gateway.pong_wait", 60*time.Second)
	v.SetDefault("gateway.ping_period", 50*time.Second)
	v.SetDefault("gateway.notify_errors", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", time.Hour)
	v.SetDefault("redis.warm_start", false)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_ticks")
	v.SetDefault("kafka.create_topic", true)
}

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	if c.App.Port == "" {
		return errors.New("app port cannot be empty")
	}
	if _, err := c.SeedPrices(); err != nil {
		return err
	}
	u := c.Updater
	if u.MinStep > u.MaxStep {
		return fmt.Errorf("updater step range is inverted: [%d, %d]", u.MinStep, u.MaxStep)
	}
	if u.StepScale <= 0 {
		return fmt.Errorf("updater step scale must be positive, got %v", u.StepScale)
	}
	if u.MinDelay <= 0 || u.MinDelay > u.MaxDelay {
		return fmt.Errorf("updater delay range is invalid: [%s, %s]", u.MinDelay, u.MaxDelay)
	}
	if u.RestartOnFailure && u.RestartBackoff <= 0 {
		return errors.New("updater restart backoff must be positive")
	}
	if c.Push.Interval <= 0 {
		return fmt.Errorf("push interval must be positive, got %s", c.Push.Interval)
	}
	g := c.Gateway
	if g.SendBuffer <= 0 || g.MaxMessageSize <= 0 {
		return errors.New("gateway send buffer and max message size must be positive")
	}
	if g.WriteWait <= 0 || g.PongWait <= 0 || g.PingPeriod <= 0 {
		return errors.New("gateway timeouts must be positive")
	}
	if g.PingPeriod >= g.PongWait {
		return fmt.Errorf("gateway ping period %s must be shorter than pong wait %s", g.PingPeriod, g.PongWait)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers cannot be empty")
	}
	return nil
}

// SeedPrices parses the "SYMBOL=PRICE" seed list.
func (c *Config) SeedPrices() (map[string]float64, error) {
	if len(c.Prices.Seed) == 0 {
		return nil, errors.New("price seed cannot be empty")
	}
	seed := make(map[string]float64, len(c.Prices.Seed))
	for _, entry := range c.Prices.Seed {
		symbol, raw, ok := strings.Cut(strings.TrimSpace(entry), "=")
		symbol = strings.TrimSpace(symbol)
		if !ok || symbol == "" {
			return nil, fmt.Errorf("invalid price seed entry %q, want SYMBOL=PRICE", entry)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid price for %s: %w", symbol, err)
		}
		seed[symbol] = price
	}
	return seed, nil
}

// SeedSymbols returns the seeded symbols in sorted order.
func (c *Config) SeedSymbols() []string {
	seed, err := c.SeedPrices()
	if err != nil {
		return nil
	}
	symbols := make([]string, 0, len(seed))
	for s := range seed {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
