package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	Features      FeaturesConfig      `mapstructure:"features"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Progress      ProgressConfig      `mapstructure:"progress"`
	Events        EventsConfig        `mapstructure:"events"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Rules         RulesConfig         `mapstructure:"rules"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite, memory
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type FeaturesConfig struct {
	EnableLocks          bool   `mapstructure:"enable_locks"`
	RequestIDHeader      string `mapstructure:"request_id_header"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging"`
}

type AuthConfig struct {
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ProgressConfig struct {
	CacheMaxSize    int           `mapstructure:"cache_max_size"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	Retention       time.Duration `mapstructure:"retention"`
}

type EventsConfig struct {
	MaxHandlersPerType int           `mapstructure:"max_handlers_per_type"`
	PublishTimeout     time.Duration `mapstructure:"publish_timeout"`
}

type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type NotificationsConfig struct {
	MaxRetries    int                        `mapstructure:"max_retries"`
	RetryInterval time.Duration              `mapstructure:"retry_interval"`
	RetryMaxAge   time.Duration              `mapstructure:"retry_max_age"`
	PruneInterval time.Duration              `mapstructure:"rate_limit_prune_interval"`
	RateLimits    map[string]RateLimitConfig `mapstructure:"rate_limits"`
}

type RulesConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlite_path", "data/skilldash.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.key_prefix", "skilldash:")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stdout"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("features.enable_locks", true)
	v.SetDefault("features.request_id_header", "X-Request-ID")
	v.SetDefault("features.enable_request_logging", true)

	v.SetDefault("progress.cache_max_size", 1000)
	v.SetDefault("progress.cache_ttl", 5*time.Minute)
	v.SetDefault("progress.cleanup_interval", time.Hour)
	v.SetDefault("progress.retention", 7*24*time.Hour)

	v.SetDefault("events.max_handlers_per_type", 1000)
	v.SetDefault("events.publish_timeout", 5*time.Second)

	v.SetDefault("notifications.max_retries", 3)
	v.SetDefault("notifications.retry_interval", time.Minute)
	v.SetDefault("notifications.retry_max_age", 24*time.Hour)
	v.SetDefault("notifications.rate_limit_prune_interval", 5*time.Minute)
	v.SetDefault("notifications.rate_limits", map[string]interface{}{
		"critical": map[string]interface{}{"limit": 10, "window": "60s"},
		"high":     map[string]interface{}{"limit": 30, "window": "60s"},
		"normal":   map[string]interface{}{"limit": 60, "window": "60s"},
		"low":      map[string]interface{}{"limit": 120, "window": "60s"},
	})
}

func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("SKILLDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
