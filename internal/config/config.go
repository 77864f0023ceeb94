// Package config loads service and agent settings from config/config.yaml,
// a .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Presence PresenceConfig `mapstructure:"presence"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Agent    AgentConfig    `mapstructure:"agent"`
}

type ServerConfig struct {
	Host     string `mapstructure:"host"`
	GRPCPort string `mapstructure:"grpc_port"`
	HTTPPort string `mapstructure:"http_port"`
}

type GRPCConfig struct {
	ReflectionEnabled bool          `mapstructure:"reflection_enabled"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN renders the lib/pq connection URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.DBName,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PresenceConfig struct {
	Store             string        `mapstructure:"store"`
	StalenessWindow   time.Duration `mapstructure:"staleness_window"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	EmitTimeout       time.Duration `mapstructure:"emit_timeout"`
}

type NotifyConfig struct {
	Driver  string `mapstructure:"driver"`
	Channel string `mapstructure:"channel"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AgentConfig struct {
	ServerURL string `mapstructure:"server_url"`
	GRPCAddr  string `mapstructure:"grpc_addr"`
	UserID    string `mapstructure:"user_id"`
	Token     string `mapstructure:"token"`
}

const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
	DriverLocal    = "local"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.grpc_port", "50055")
	v.SetDefault("server.http_port", "8085")

	v.SetDefault("grpc.reflection_enabled", false)
	v.SetDefault("grpc.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "zabon")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("storage.driver", DriverPostgres)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("presence.store", DriverPostgres)
	v.SetDefault("presence.staleness_window", 5*time.Minute)
	v.SetDefault("presence.heartbeat_interval", 2*time.Minute)
	v.SetDefault("presence.emit_timeout", 15*time.Second)

	v.SetDefault("notify.driver", DriverPostgres)
	v.SetDefault("notify.channel", "chat:messages")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("agent.server_url", "http://localhost:8085")
	v.SetDefault("agent.grpc_addr", "localhost:50055")
	v.SetDefault("agent.user_id", "")
	v.SetDefault("agent.token", "")
}

// Load reads config.yaml from the given directories (./config and
// /app/config when none are given). A missing file is not an error.
func Load(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("storage.driver: unsupported %q", c.Storage.Driver)
	}

	switch c.Presence.Store {
	case DriverPostgres, DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("presence.store: unsupported %q", c.Presence.Store)
	}

	switch c.Notify.Driver {
	case DriverPostgres, DriverRedis, DriverLocal:
	default:
		return fmt.Errorf("notify.driver: unsupported %q", c.Notify.Driver)
	}

	if c.Notify.Driver == DriverPostgres && c.Storage.Driver != DriverPostgres {
		return errors.New("notify.driver postgres requires storage.driver postgres")
	}

	if c.Presence.HeartbeatInterval >= c.Presence.StalenessWindow {
		return fmt.Errorf("presence.heartbeat_interval (%s) must be shorter than presence.staleness_window (%s)",
			c.Presence.HeartbeatInterval, c.Presence.StalenessWindow)
	}

	return nil
}
