package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/noah-isme/gema-portal/internal/models"
)

// Store drivers.
const (
	StoreDriverFile     = "file"
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
)

// Config holds runtime configuration values for the store process and the console.
type Config struct {
	AppName   string
	AppEnv    string
	AppPort   string
	BodyLimit int

	StoreDriver    string
	StorePath      string
	DatabaseURL    string
	RedisURL       string
	NATSURL        string
	ChannelBase    string
	SnapshotTTL    time.Duration
	SaveRateLimit  int
	StreamKeepWarm time.Duration

	ConsoleStoreURL     string
	ConsolePollInterval time.Duration
	ConsoleLegacyPath   string
	ConsoleOwned        []string
	ConsoleRole         string
	ConsoleEmail        string
	ConsoleStream       bool

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	OpenAIAPIKey           string
	AIModel                string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Portal Store")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "3000")
	v.SetDefault("app.body_limit_mb", 50)
	v.SetDefault("store.driver", StoreDriverFile)
	v.SetDefault("store.path", "db.json")
	v.SetDefault("store.cache_ttl", "30s")
	v.SetDefault("store.save_rate_limit", 0)
	v.SetDefault("realtime.channel", "gema:portal")
	v.SetDefault("realtime.keepalive", "30s")
	v.SetDefault("console.store_url", "http://localhost:3000")
	v.SetDefault("console.poll_interval", "5s")
	v.SetDefault("console.legacy_path", "legacy.db")
	v.SetDefault("console.owned", strings.Join(models.CollectionKeys, ","))
	v.SetDefault("console.role", "guest")
	v.SetDefault("console.stream", true)
	v.SetDefault("cloudinary.folder", "gema/portal")
	v.SetDefault("ai.model", "gpt-4o-mini")

	snapshotTTL, err := parseDuration(v, "store.cache_ttl")
	if err != nil {
		return Config{}, err
	}
	keepAlive, err := parseDuration(v, "realtime.keepalive")
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := parseDuration(v, "console.poll_interval")
	if err != nil {
		return Config{}, err
	}

	bodyLimitMB := v.GetInt("app.body_limit_mb")
	if bodyLimitMB <= 0 {
		bodyLimitMB = 50
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		BodyLimit:              bodyLimitMB * 1024 * 1024,
		StoreDriver:            strings.ToLower(v.GetString("store.driver")),
		StorePath:              v.GetString("store.path"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		ChannelBase:            v.GetString("realtime.channel"),
		SnapshotTTL:            snapshotTTL,
		SaveRateLimit:          v.GetInt("store.save_rate_limit"),
		StreamKeepWarm:         keepAlive,
		ConsoleStoreURL:        strings.TrimRight(v.GetString("console.store_url"), "/"),
		ConsolePollInterval:    pollInterval,
		ConsoleLegacyPath:      v.GetString("console.legacy_path"),
		ConsoleOwned:           splitList(v.GetString("console.owned")),
		ConsoleRole:            strings.ToLower(v.GetString("console.role")),
		ConsoleEmail:           strings.ToLower(strings.TrimSpace(v.GetString("console.email"))),
		ConsoleStream:          v.GetBool("console.stream"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		OpenAIAPIKey:           v.GetString("openai_api_key"),
		AIModel:                v.GetString("ai.model"),
	}

	switch cfg.StoreDriver {
	case StoreDriverFile:
		if cfg.StorePath == "" {
			return Config{}, fmt.Errorf("store path must be provided for the file driver")
		}
	case StoreDriverSQLite, StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("database url must be provided for the %s driver", cfg.StoreDriver)
		}
	default:
		return Config{}, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}

	for _, key := range cfg.ConsoleOwned {
		if !models.IsCollectionKey(key) {
			return Config{}, fmt.Errorf("unknown owned collection %q", key)
		}
	}

	if cfg.ConsolePollInterval <= 0 {
		cfg.ConsolePollInterval = 5 * time.Second
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func splitList(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
