package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all client configuration
//
//nolint:govet // Field alignment optimization would reduce readability
type Config struct {
	API           APIConfig
	Realtime      RealtimeConfig
	Notifications NotificationsConfig
	Storage       StorageConfig
	Logging       LoggingConfig
	Observability ObservabilityConfig
	DevRelay      DevRelayConfig
	AppEnv        string
}

type APIConfig struct {
	BaseURL        string
	PathPrefix     string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
}

type RealtimeConfig struct {
	// HandshakeTimeout bounds the preferred-transport handshake
	HandshakeTimeout time.Duration
	// ProbeTimeout bounds the capability probe and the fallback handshake
	ProbeTimeout time.Duration
	// ReconnectMaxDelay caps the transport's reconnect backoff
	ReconnectMaxDelay time.Duration
	// PollWait is the long-poll hold duration for the fallback transport
	PollWait time.Duration
}

type NotificationsConfig struct {
	PollInterval time.Duration
}

type StorageConfig struct {
	// Path of the durable session file; empty keeps the store in memory only
	Path string
}

type LoggingConfig struct {
	Level string
	Dir   string
}

type ObservabilityConfig struct {
	CollectorEndpoint string
	ServiceName       string
	ServiceNamespace  string
	ServiceVersion    string
	ServiceInstanceID string
}

type DevRelayConfig struct {
	Port           string
	GinMode        string
	JWTSecret      string
	JWTIssuer      string
	SessionTTL     int
	AllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("API_BASE_URL", "https://app.acadex.io/api/v1")
	v.SetDefault("API_PATH_PREFIX", "/api/v1")
	v.SetDefault("API_REQUEST_TIMEOUT_SECONDS", 30)
	v.SetDefault("API_UPLOAD_TIMEOUT_SECONDS", 300) // file uploads get 5 minutes
	v.SetDefault("REALTIME_HANDSHAKE_TIMEOUT_SECONDS", 10)
	v.SetDefault("REALTIME_PROBE_TIMEOUT_SECONDS", 5)
	v.SetDefault("REALTIME_RECONNECT_MAX_DELAY_SECONDS", 30)
	v.SetDefault("REALTIME_POLL_WAIT_SECONDS", 25)
	v.SetDefault("NOTIFICATIONS_POLL_INTERVAL_SECONDS", 30)
	v.SetDefault("SESSION_STORAGE_PATH", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DIR", "")
	v.SetDefault("O11Y_BE_SERVICE_NAME", "acadex-client")
	v.SetDefault("O11Y_SERVICE_NAMESPACE", "acadex")
	v.SetDefault("O11Y_BE_SERVICE_VERSION", "1.0.0")

	// Dev relay defaults
	v.SetDefault("DEVRELAY_PORT", "8090")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("JWT_ISSUER", "acadex-devrelay")
	v.SetDefault("SESSION_TTL_HOURS", 24)
	v.SetDefault("ALLOWED_CORS_ORIGINS", "http://localhost:3000")

	// Automatically read environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	_ = v.ReadInConfig() //nolint:errcheck // Ignore error if .env file doesn't exist

	// Parse allowed CORS origins (comma-separated)
	allowedOrigins := []string{}
	originsStr := v.GetString("ALLOWED_CORS_ORIGINS")
	if originsStr != "" {
		for _, origin := range strings.Split(originsStr, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins = append(allowedOrigins, origin)
			}
		}
	}

	cfg := &Config{
		AppEnv: v.GetString("APP_ENV"),
		API: APIConfig{
			BaseURL:        strings.TrimRight(v.GetString("API_BASE_URL"), "/"),
			PathPrefix:     v.GetString("API_PATH_PREFIX"),
			RequestTimeout: time.Duration(v.GetInt("API_REQUEST_TIMEOUT_SECONDS")) * time.Second,
			UploadTimeout:  time.Duration(v.GetInt("API_UPLOAD_TIMEOUT_SECONDS")) * time.Second,
		},
		Realtime: RealtimeConfig{
			HandshakeTimeout:  time.Duration(v.GetInt("REALTIME_HANDSHAKE_TIMEOUT_SECONDS")) * time.Second,
			ProbeTimeout:      time.Duration(v.GetInt("REALTIME_PROBE_TIMEOUT_SECONDS")) * time.Second,
			ReconnectMaxDelay: time.Duration(v.GetInt("REALTIME_RECONNECT_MAX_DELAY_SECONDS")) * time.Second,
			PollWait:          time.Duration(v.GetInt("REALTIME_POLL_WAIT_SECONDS")) * time.Second,
		},
		Notifications: NotificationsConfig{
			PollInterval: time.Duration(v.GetInt("NOTIFICATIONS_POLL_INTERVAL_SECONDS")) * time.Second,
		},
		Storage: StorageConfig{
			Path: v.GetString("SESSION_STORAGE_PATH"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("LOG_LEVEL"),
			Dir:   v.GetString("LOG_DIR"),
		},
		Observability: ObservabilityConfig{
			CollectorEndpoint: v.GetString("O11Y_EXPORTER_ENDPOINT"),
			ServiceName:       v.GetString("O11Y_BE_SERVICE_NAME"),
			ServiceNamespace:  v.GetString("O11Y_SERVICE_NAMESPACE"),
			ServiceVersion:    v.GetString("O11Y_BE_SERVICE_VERSION"),
			ServiceInstanceID: v.GetString("SERVICE_INSTANCE_ID"),
		},
		DevRelay: DevRelayConfig{
			Port:           v.GetString("DEVRELAY_PORT"),
			GinMode:        v.GetString("GIN_MODE"),
			JWTSecret:      v.GetString("JWT_SECRET"),
			JWTIssuer:      v.GetString("JWT_ISSUER"),
			SessionTTL:     v.GetInt("SESSION_TTL_HOURS"),
			AllowedOrigins: allowedOrigins,
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration values are set
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("API_BASE_URL must be an absolute http(s) URL")
	}
	if c.API.PathPrefix != "" && !strings.HasSuffix(c.API.BaseURL, c.API.PathPrefix) {
		return fmt.Errorf("API_BASE_URL must end with API_PATH_PREFIX (%s)", c.API.PathPrefix)
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("API_REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.API.UploadTimeout < c.API.RequestTimeout {
		return fmt.Errorf("API_UPLOAD_TIMEOUT_SECONDS must not be shorter than the request timeout")
	}
	if c.Notifications.PollInterval <= 0 {
		return fmt.Errorf("NOTIFICATIONS_POLL_INTERVAL_SECONDS must be positive")
	}
	return nil
}

// ChannelBaseURL derives the realtime channel base URL from the REST base URL
// by stripping the API path prefix.
func (c *Config) ChannelBaseURL() string {
	return strings.TrimSuffix(c.API.BaseURL, c.API.PathPrefix)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
