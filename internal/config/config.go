package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Config holds all configuration
type Config struct {
	MySQL     MySQLConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Admin     AdminConfig
	Bot       BotConfig
	Platform  PlatformConfig
	Secret    SecretConfig
	Heartbeat HeartbeatConfig
	KeepAlive KeepAliveConfig
	Migrate   bool
	HTTPAddr  string
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	DSN string
}

// RedisConfig holds Redis configuration. An empty Addr disables redis and
// the pause sets fall back to memory only.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string
	ExpireMinutes int
	Issuer        string
}

// AdminConfig holds the single admin credential for the HTTP surface.
type AdminConfig struct {
	Username     string
	PasswordHash string
}

// BotConfig holds the control bot used for operator notifications.
type BotConfig struct {
	Token   string
	OwnerID int64
}

// PlatformConfig selects the registered protocol driver.
type PlatformConfig struct {
	Driver string
}

// SecretConfig holds the credential sealing key.
type SecretConfig struct {
	// EncryptionKey is a base64-encoded 32-byte key; empty disables sealing.
	EncryptionKey string
}

// HeartbeatConfig holds liveness marker configuration
type HeartbeatConfig struct {
	Path        string
	IntervalSec int
}

// KeepAliveConfig tunes the presence refresh cycle
type KeepAliveConfig struct {
	OnlineHoldSec      int
	OfflineHoldSec     int
	CooldownSec        int
	InitialDelayMinSec int
	InitialDelayMaxSec int
	PauseTTLMinutes    int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getEnv("MYSQL_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASS", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:        os.Getenv("JWT_SECRET"),
			ExpireMinutes: getEnvInt("JWT_EXPIRE_MINUTES", 1440),
			Issuer:        getEnv("JWT_ISSUER", "sessionfleet"),
		},
		Admin: AdminConfig{
			Username:     getEnv("ADMIN_USER", "admin"),
			PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Bot: BotConfig{
			Token:   getEnv("BOT_TOKEN", ""),
			OwnerID: getEnvInt64("OWNER_ID", 0),
		},
		Platform: PlatformConfig{
			Driver: getEnv("PLATFORM_DRIVER", "telegram"),
		},
		Secret: SecretConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Heartbeat: HeartbeatConfig{
			Path:        getEnv("HEARTBEAT_PATH", "/tmp/sessionfleet.heartbeat"),
			IntervalSec: getEnvInt("HEARTBEAT_INTERVAL_SEC", 5),
		},
		KeepAlive: KeepAliveConfig{
			OnlineHoldSec:      getEnvInt("KEEPALIVE_ONLINE_HOLD_SEC", 10),
			OfflineHoldSec:     getEnvInt("KEEPALIVE_OFFLINE_HOLD_SEC", 3),
			CooldownSec:        getEnvInt("KEEPALIVE_COOLDOWN_SEC", 2),
			InitialDelayMinSec: getEnvInt("KEEPALIVE_INITIAL_DELAY_MIN_SEC", 30),
			InitialDelayMaxSec: getEnvInt("KEEPALIVE_INITIAL_DELAY_MAX_SEC", 300),
			PauseTTLMinutes:    getEnvInt("PAUSE_TTL_MINUTES", 5),
		},
		Migrate:  getEnv("MIGRATE", "0") == "1",
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.MySQL.DSN == "" {
		return fmt.Errorf("MYSQL_DSN is required")
	}
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Admin.PasswordHash == "" {
		return fmt.Errorf("ADMIN_PASSWORD_HASH is required")
	}
	if cfg.Bot.Token != "" && cfg.Bot.OwnerID == 0 {
		return fmt.Errorf("OWNER_ID is required when BOT_TOKEN is set")
	}
	if cfg.KeepAlive.InitialDelayMaxSec < cfg.KeepAlive.InitialDelayMinSec {
		return fmt.Errorf("KEEPALIVE_INITIAL_DELAY_MAX_SEC must be >= KEEPALIVE_INITIAL_DELAY_MIN_SEC")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// LoadFromINI loads configuration from INI file with environment variable override
func LoadFromINI(iniPath string) (*Config, error) {
	cfgFile, err := ini.Load(iniPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load INI file: %w", err)
	}

	// Helper function: get value with priority: ENV > INI > default
	getValue := func(envKey, iniSection, iniKey, defaultValue string) string {
		if value := os.Getenv(envKey); value != "" {
			return value
		}
		if value := cfgFile.Section(iniSection).Key(iniKey).String(); value != "" {
			return value
		}
		return defaultValue
	}

	getValueInt := func(envKey, iniSection, iniKey string, defaultValue int) int {
		if value := os.Getenv(envKey); value != "" {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
		if cfgFile.Section(iniSection).HasKey(iniKey) {
			if value, err := cfgFile.Section(iniSection).Key(iniKey).Int(); err == nil {
				return value
			}
		}
		return defaultValue
	}

	getValueInt64 := func(envKey, iniSection, iniKey string, defaultValue int64) int64 {
		if value := os.Getenv(envKey); value != "" {
			if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
				return intValue
			}
		}
		if cfgFile.Section(iniSection).HasKey(iniKey) {
			if value, err := cfgFile.Section(iniSection).Key(iniKey).Int64(); err == nil {
				return value
			}
		}
		return defaultValue
	}

	getValueBool := func(envKey, iniSection, iniKey string, defaultValue bool) bool {
		if value := os.Getenv(envKey); value != "" {
			return value == "1" || value == "true"
		}
		if value, err := cfgFile.Section(iniSection).Key(iniKey).Bool(); err == nil {
			return value
		}
		return defaultValue
	}

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getValue("MYSQL_DSN", "mysql", "dsn", ""),
		},
		Redis: RedisConfig{
			Addr:     getValue("REDIS_ADDR", "redis", "addr", ""),
			Password: getValue("REDIS_PASS", "redis", "pass", ""),
			DB:       getValueInt("REDIS_DB", "redis", "db", 0),
		},
		JWT: JWTConfig{
			Secret:        getValue("JWT_SECRET", "jwt", "secret", ""),
			ExpireMinutes: getValueInt("JWT_EXPIRE_MINUTES", "jwt", "expire_minutes", 1440),
			Issuer:        getValue("JWT_ISSUER", "jwt", "issuer", "sessionfleet"),
		},
		Admin: AdminConfig{
			Username:     getValue("ADMIN_USER", "admin", "user", "admin"),
			PasswordHash: getValue("ADMIN_PASSWORD_HASH", "admin", "password_hash", ""),
		},
		Bot: BotConfig{
			Token:   getValue("BOT_TOKEN", "bot", "token", ""),
			OwnerID: getValueInt64("OWNER_ID", "bot", "owner_id", 0),
		},
		Platform: PlatformConfig{
			Driver: getValue("PLATFORM_DRIVER", "platform", "driver", "telegram"),
		},
		Secret: SecretConfig{
			EncryptionKey: getValue("ENCRYPTION_KEY", "secret", "encryption_key", ""),
		},
		Heartbeat: HeartbeatConfig{
			Path:        getValue("HEARTBEAT_PATH", "heartbeat", "path", "/tmp/sessionfleet.heartbeat"),
			IntervalSec: getValueInt("HEARTBEAT_INTERVAL_SEC", "heartbeat", "interval_sec", 5),
		},
		KeepAlive: KeepAliveConfig{
			OnlineHoldSec:      getValueInt("KEEPALIVE_ONLINE_HOLD_SEC", "keepalive", "online_hold_sec", 10),
			OfflineHoldSec:     getValueInt("KEEPALIVE_OFFLINE_HOLD_SEC", "keepalive", "offline_hold_sec", 3),
			CooldownSec:        getValueInt("KEEPALIVE_COOLDOWN_SEC", "keepalive", "cooldown_sec", 2),
			InitialDelayMinSec: getValueInt("KEEPALIVE_INITIAL_DELAY_MIN_SEC", "keepalive", "initial_delay_min_sec", 30),
			InitialDelayMaxSec: getValueInt("KEEPALIVE_INITIAL_DELAY_MAX_SEC", "keepalive", "initial_delay_max_sec", 300),
			PauseTTLMinutes:    getValueInt("PAUSE_TTL_MINUTES", "keepalive", "pause_ttl_minutes", 5),
		},
		Migrate:  getValueBool("MIGRATE", "app", "migrate", false),
		HTTPAddr: getValue("HTTP_ADDR", "http", "addr", ":8080"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
