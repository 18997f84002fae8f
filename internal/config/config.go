package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Store     StoreConfig     `mapstructure:"store"`
	Retention RetentionConfig `mapstructure:"retention"`
	Email     EmailConfig     `mapstructure:"email"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

type AppConfig struct {
	Name      string `mapstructure:"name"`
	Env       string `mapstructure:"env"`
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

func (a AppConfig) Address() string {
	return fmt.Sprintf(":%d", a.Port)
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// URL is the form golang-migrate expects.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type RealtimeConfig struct {
	// Broker is "local" for a single instance or "redis" to fan out across
	// instances through Redis pub/sub.
	Broker           string   `mapstructure:"broker"`
	Channel          string   `mapstructure:"channel"`
	SendBuffer       int      `mapstructure:"send_buffer"`
	ConnectPerMinute int      `mapstructure:"connect_per_minute"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
}

type StoreConfig struct {
	// Driver is "postgres" or "firestore".
	Driver string `mapstructure:"driver"`
}

type RetentionConfig struct {
	Days        int    `mapstructure:"days"`
	CleanupCron string `mapstructure:"cleanup_cron"`
}

func (r RetentionConfig) Window() time.Duration {
	return time.Duration(r.Days) * 24 * time.Hour
}

type EmailConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	From    string   `mapstructure:"from"`
	Region  string   `mapstructure:"region"`
	Types   []string `mapstructure:"types"`
}

type RateLimitConfig struct {
	RequestsPerMinute int64 `mapstructure:"requests_per_minute"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// env names kept compatible with existing deployments
var envBindings = map[string]string{
	"app.name":                       "APP_NAME",
	"app.env":                        "APP_ENV",
	"app.port":                       "PORT",
	"app.log_level":                  "LOG_LEVEL",
	"app.log_format":                 "LOG_FORMAT",
	"database.host":                  "DB_HOST",
	"database.port":                  "DB_PORT",
	"database.user":                  "DB_USER",
	"database.password":              "DB_PASSWORD",
	"database.name":                  "DB_NAME",
	"database.sslmode":               "DB_SSLMODE",
	"database.max_open_conns":        "DB_MAX_OPEN_CONNS",
	"database.max_idle_conns":        "DB_MAX_IDLE_CONNS",
	"database.conn_max_lifetime":     "DB_CONN_MAX_LIFETIME",
	"redis.addr":                     "REDIS_ADDR",
	"redis.password":                 "REDIS_PASSWORD",
	"redis.db":                       "REDIS_DB",
	"auth.jwt_secret":                "JWT_SECRET",
	"auth.token_ttl":                 "JWT_TTL",
	"realtime.broker":                "REALTIME_BROKER",
	"realtime.channel":               "REALTIME_CHANNEL",
	"realtime.send_buffer":           "REALTIME_SEND_BUFFER",
	"realtime.connect_per_minute":    "REALTIME_CONNECT_PER_MINUTE",
	"realtime.allowed_origins":       "REALTIME_ALLOWED_ORIGINS",
	"store.driver":                   "STORE_DRIVER",
	"retention.days":                 "RETENTION_DAYS",
	"retention.cleanup_cron":         "RETENTION_CLEANUP_CRON",
	"email.enabled":                  "EMAIL_ENABLED",
	"email.from":                     "EMAIL_FROM",
	"email.region":                   "AWS_REGION",
	"email.types":                    "EMAIL_TYPES",
	"rate_limit.requests_per_minute": "RATE_LIMIT_PER_MINUTE",
	"worker.concurrency":             "WORKER_CONCURRENCY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fitalerts")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "text")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "fitalerts")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("realtime.broker", "local")
	v.SetDefault("realtime.channel", "fitalerts:notifications")
	v.SetDefault("realtime.send_buffer", 64)
	v.SetDefault("realtime.connect_per_minute", 30)
	v.SetDefault("realtime.allowed_origins", []string{})

	v.SetDefault("store.driver", "postgres")

	v.SetDefault("retention.days", 0)
	v.SetDefault("retention.cleanup_cron", "@hourly")

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.region", "us-east-1")
	v.SetDefault("email.types", []string{})

	v.SetDefault("rate_limit.requests_per_minute", 120)
	v.SetDefault("worker.concurrency", 10)
}

// Load reads the configuration and validates it for running the service.
func Load(configFile string) (*Config, error) {
	cfg, err := Read(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads .env (if present), an optional config file and the
// environment, in increasing order of precedence, without validating.
// Maintenance commands that only need the database use it directly.
func Read(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// comma separated lists arrive from the environment as one string
	cfg.Realtime.AllowedOrigins = splitList(cfg.Realtime.AllowedOrigins)
	cfg.Email.Types = splitList(cfg.Email.Types)
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.Realtime.Broker {
	case "local", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown REALTIME_BROKER %q", c.Realtime.Broker))
	}
	switch c.Store.Driver {
	case "postgres", "firestore":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}
	if c.Realtime.SendBuffer <= 0 {
		errs = append(errs, errors.New("REALTIME_SEND_BUFFER must be positive"))
	}
	if c.Retention.Days < 0 {
		errs = append(errs, errors.New("RETENTION_DAYS must not be negative"))
	}
	if c.Email.Enabled && c.Email.From == "" {
		errs = append(errs, errors.New("EMAIL_FROM is required when email is enabled"))
	}
	return errors.Join(errs...)
}

func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
