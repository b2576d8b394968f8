package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "UMSHADO"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = "sqlite"
	defaultDatabaseDSN       = "umshado.db"
	defaultAuthAudience      = "authenticated"
	defaultLogLevel          = "info"
	defaultLogEncoding       = "json"
	defaultCooldownSeconds   = 60
	defaultRequestsPerSecond = 5.0
	defaultBurst             = 20
	defaultAllowedOrigins    = "*"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabaseDriver    string
	DatabaseDSN       string
	JWTSecret         string
	AuthAudience      string
	LogLevel          string
	LogEncoding       string
	MessageCooldown   time.Duration
	RedisURL          string
	RequestsPerSecond float64
	RequestBurst      int
	AllowedOrigins    []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("notifications.message_cooldown_seconds", defaultCooldownSeconds)
	configViper.SetDefault("ratelimit.requests_per_second", defaultRequestsPerSecond)
	configViper.SetDefault("ratelimit.burst", defaultBurst)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:       configViper.GetString("database.dsn"),
		JWTSecret:         configViper.GetString("auth.jwt_secret"),
		AuthAudience:      configViper.GetString("auth.audience"),
		LogLevel:          configViper.GetString("log.level"),
		LogEncoding:       configViper.GetString("log.encoding"),
		MessageCooldown:   time.Duration(configViper.GetInt("notifications.message_cooldown_seconds")) * time.Second,
		RedisURL:          strings.TrimSpace(configViper.GetString("redis.url")),
		RequestsPerSecond: configViper.GetFloat64("ratelimit.requests_per_second"),
		RequestBurst:      configViper.GetInt("ratelimit.burst"),
		AllowedOrigins:    splitOrigins(configViper.GetString("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.DatabaseDriver != DriverSQLite && c.DatabaseDriver != DriverPostgres {
		return fmt.Errorf("database.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.MessageCooldown <= 0 {
		return fmt.Errorf("notifications.message_cooldown_seconds must be positive")
	}
	if c.RequestsPerSecond <= 0 || c.RequestBurst <= 0 {
		return fmt.Errorf("ratelimit.requests_per_second and ratelimit.burst must be positive")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("cors.allowed_origins is required")
	}
	return nil
}
