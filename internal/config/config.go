package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "INKROOM"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultPersistenceDriver = DriverSQLite
	defaultSQLitePath        = "inkroom.db"
	defaultFileDir           = "data"
	defaultRedisAddress      = "127.0.0.1:6379"
	defaultRedisKeyPrefix    = "inkroom"
	defaultSaveDebounce      = 250 * time.Millisecond
	defaultSweepInterval     = time.Minute
	defaultMaxMessageBytes   = 1 << 20
	defaultSendBuffer        = 256
	defaultAllowedOrigins    = "*"
	defaultIssuer            = "inkroom-auth"
	defaultCookieName        = "inkroom_session"
	defaultTokenTTL          = 12 * time.Hour
)

// Persistence drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverFile   = "file"
	DriverMemory = "memory"
)

// AppConfig captures runtime configuration for the room server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string
	LogFormat   string

	PersistenceDriver string
	SQLitePath        string
	FileDir           string
	RedisAddress      string
	RedisPassword     string
	RedisDB           int
	RedisKeyPrefix    string
	SaveDebounce      time.Duration

	RoomIdleTTL       time.Duration
	RoomSweepInterval time.Duration
	MaxMessageBytes   int64
	SendBuffer        int
	AllowedOrigins    []string
	AuthSigningSecret string
	AuthIssuer        string
	AuthCookieName    string
	AuthTokenTTL      time.Duration
}

// AuthEnabled reports whether websocket and state requests require a session token.
func (c AppConfig) AuthEnabled() bool {
	return strings.TrimSpace(c.AuthSigningSecret) != ""
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
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("persistence.driver", defaultPersistenceDriver)
	configViper.SetDefault("persistence.sqlite_path", defaultSQLitePath)
	configViper.SetDefault("persistence.file_dir", defaultFileDir)
	configViper.SetDefault("persistence.redis_address", defaultRedisAddress)
	configViper.SetDefault("persistence.redis_password", "")
	configViper.SetDefault("persistence.redis_db", 0)
	configViper.SetDefault("persistence.redis_key_prefix", defaultRedisKeyPrefix)
	configViper.SetDefault("persistence.save_debounce", defaultSaveDebounce)
	configViper.SetDefault("rooms.idle_ttl", time.Duration(0))
	configViper.SetDefault("rooms.sweep_interval", defaultSweepInterval)
	configViper.SetDefault("websocket.max_message_bytes", defaultMaxMessageBytes)
	configViper.SetDefault("websocket.send_buffer", defaultSendBuffer)
	configViper.SetDefault("websocket.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         configViper.GetString("log.format"),
		PersistenceDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("persistence.driver"))),
		SQLitePath:        configViper.GetString("persistence.sqlite_path"),
		FileDir:           configViper.GetString("persistence.file_dir"),
		RedisAddress:      configViper.GetString("persistence.redis_address"),
		RedisPassword:     configViper.GetString("persistence.redis_password"),
		RedisDB:           configViper.GetInt("persistence.redis_db"),
		RedisKeyPrefix:    configViper.GetString("persistence.redis_key_prefix"),
		SaveDebounce:      configViper.GetDuration("persistence.save_debounce"),
		RoomIdleTTL:       configViper.GetDuration("rooms.idle_ttl"),
		RoomSweepInterval: configViper.GetDuration("rooms.sweep_interval"),
		MaxMessageBytes:   configViper.GetInt64("websocket.max_message_bytes"),
		SendBuffer:        configViper.GetInt("websocket.send_buffer"),
		AllowedOrigins:    splitList(configViper.GetStringSlice("websocket.allowed_origins")),
		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		AuthIssuer:        configViper.GetString("auth.issuer"),
		AuthCookieName:    configViper.GetString("auth.cookie_name"),
		AuthTokenTTL:      configViper.GetDuration("auth.token_ttl"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	switch c.PersistenceDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("persistence.sqlite_path is required for the sqlite driver")
		}
	case DriverRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("persistence.redis_address is required for the redis driver")
		}
	case DriverFile:
		if strings.TrimSpace(c.FileDir) == "" {
			return fmt.Errorf("persistence.file_dir is required for the file driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("persistence.driver %q is not one of sqlite, redis, file, memory", c.PersistenceDriver)
	}
	if c.SaveDebounce < 0 {
		return fmt.Errorf("persistence.save_debounce must not be negative")
	}
	if c.RoomIdleTTL < 0 {
		return fmt.Errorf("rooms.idle_ttl must not be negative")
	}
	if c.RoomIdleTTL > 0 && c.RoomSweepInterval <= 0 {
		return fmt.Errorf("rooms.sweep_interval must be positive when rooms.idle_ttl is set")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("websocket.max_message_bytes must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("websocket.send_buffer must be positive")
	}
	if c.AuthEnabled() {
		if strings.TrimSpace(c.AuthIssuer) == "" {
			return fmt.Errorf("auth.issuer is required when auth.signing_secret is set")
		}
		if strings.TrimSpace(c.AuthCookieName) == "" {
			return fmt.Errorf("auth.cookie_name is required when auth.signing_secret is set")
		}
	}
	return nil
}

// splitList accepts both list values and comma separated strings, as
// environment variables arrive as a single string.
func splitList(values []string) []string {
	items := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				items = append(items, trimmed)
			}
		}
	}
	return items
}
