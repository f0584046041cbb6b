package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Identity IdentityConfig `mapstructure:"identity"`
	Game     GameConfig     `mapstructure:"game"`
}

type ServerConfig struct {
	HTTPAddress      string  `mapstructure:"http_address"`
	RPCAddress       string  `mapstructure:"rpc_address"`
	MetricsNamespace string  `mapstructure:"metrics_namespace"`
	PacketsPerSecond float64 `mapstructure:"packets_per_second"`
	PacketBurst      int     `mapstructure:"packet_burst"`
	MaxUploadBytes   int64   `mapstructure:"max_upload_bytes"`
}

type DatabaseConfig struct {
	// Driver is "memory" or "postgres".
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type NotifierConfig struct {
	// Driver is "local", "redis" or "postgres".
	Driver          string      `mapstructure:"driver"`
	Redis           RedisConfig `mapstructure:"redis"`
	PostgresChannel string      `mapstructure:"postgres_channel"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type BlobConfig struct {
	Dir     string `mapstructure:"dir"`
	BaseURL string `mapstructure:"base_url"`
}

type IdentityConfig struct {
	Secret           string        `mapstructure:"secret"`
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
	AnonymousEnabled bool          `mapstructure:"anonymous_enabled"`
	AllowLocal       bool          `mapstructure:"allow_local"`
}

type GameConfig struct {
	BaseStageSeconds    int `mapstructure:"base_stage_seconds"`
	DefaultTimerPerUser int `mapstructure:"default_timer_per_user"`
	DefaultMaxPhotos    int `mapstructure:"default_max_photos"`
}

// DSN returns the postgres connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Password, p.DBName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":8081")
	v.SetDefault("server.metrics_namespace", "photoguess")
	v.SetDefault("server.packets_per_second", 10.0)
	v.SetDefault("server.packet_burst", 20)
	v.SetDefault("server.max_upload_bytes", 10<<20)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.dbname", "photoguess")

	v.SetDefault("notifier.driver", "local")
	v.SetDefault("notifier.redis.addr", "localhost:6379")
	v.SetDefault("notifier.redis.prefix", "pg:")
	v.SetDefault("notifier.postgres_channel", "photoguess_changes")

	v.SetDefault("blob.dir", "./data/blobs")
	v.SetDefault("blob.base_url", "/blobs")

	v.SetDefault("identity.token_ttl", 30*24*time.Hour)
	v.SetDefault("identity.anonymous_enabled", true)
	v.SetDefault("identity.allow_local", true)

	v.SetDefault("game.base_stage_seconds", 120)
	v.SetDefault("game.default_timer_per_user", 30)
	v.SetDefault("game.default_max_photos", 1)
}

// LoadConfig reads config.yaml from path, overlaid with PHOTOGUESS_* env vars.
// A missing config file is not an error; defaults and env still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("photoguess")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
