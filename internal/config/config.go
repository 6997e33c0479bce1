package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	// Default remote endpoints
	DefaultAPIBaseURL      = "https://api.cloudinary.com"
	DefaultDeliveryBaseURL = "https://res.cloudinary.com"

	// Upload limits
	DefaultMaxUploadBytes = 100 * 1024 * 1024 // 100MB, the free-tier video limit

	// Fallback ladder pacing
	DefaultRetryDelay   = 1500 * time.Millisecond
	DefaultProbeTimeout = 10 * time.Second

	// HTTP server
	DefaultHTTPPort     = "8080"
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 5 * time.Minute // uploads and downloads stream through
	DefaultIdleTimeout  = time.Minute

	// Environment variable prefix
	EnvPrefix = "VIDEDIT"
)

// DefaultAllowedTypes lists the MIME types accepted for upload.
var DefaultAllowedTypes = []string{
	"video/mp4",
	"video/webm",
	"video/quicktime",
	"video/x-msvideo",
	"video/x-matroska",
	"video/ogg",
}

// Config holds application configuration.
type Config struct {
	Cloud   CloudConfig
	Server  ServerConfig
	Upload  UploadConfig
	Retry   RetryConfig
	Verbose bool
}

// CloudConfig holds the hosted media API credentials and endpoints.
type CloudConfig struct {
	CloudName       string `mapstructure:"cloud_name"`
	APIKey          string `mapstructure:"api_key"`
	APISecret       string `mapstructure:"api_secret"`
	UploadPreset    string `mapstructure:"upload_preset"`
	Folder          string `mapstructure:"folder"`
	APIBaseURL      string `mapstructure:"api_base_url"`
	DeliveryBaseURL string `mapstructure:"delivery_base_url"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Environment  string        `mapstructure:"environment"`
	HTTPPort     string        `mapstructure:"http_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// UploadConfig holds upload validation settings.
type UploadConfig struct {
	MaxBytes     int64    `mapstructure:"max_bytes"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// RetryConfig holds the pacing of the fallback ladder.
type RetryConfig struct {
	Delay        time.Duration `mapstructure:"delay"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// Signed reports whether uploads must be signed with the API secret.
func (c CloudConfig) Signed() bool {
	return c.UploadPreset == ""
}

func init() {
	if os.Getenv("GO_ENVIRONMENT") == "test" {
		return
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Println("Warning: Error loading .env file:", err)
	}
}

// Load reads configuration from an optional TOML file and the environment.
// Env var overrides use prefix VIDEDIT_, e.g. VIDEDIT_CLOUD_CLOUD_NAME.
// The bare CLOUDINARY_* variables are honoured as well.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("cloud.cloud_name", os.Getenv("CLOUDINARY_CLOUD_NAME"))
	v.SetDefault("cloud.api_key", os.Getenv("CLOUDINARY_API_KEY"))
	v.SetDefault("cloud.api_secret", os.Getenv("CLOUDINARY_API_SECRET"))
	v.SetDefault("cloud.upload_preset", os.Getenv("CLOUDINARY_UPLOAD_PRESET"))
	v.SetDefault("cloud.folder", "")
	v.SetDefault("cloud.api_base_url", DefaultAPIBaseURL)
	v.SetDefault("cloud.delivery_base_url", DefaultDeliveryBaseURL)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.http_port", DefaultHTTPPort)
	v.SetDefault("server.read_timeout", DefaultReadTimeout)
	v.SetDefault("server.write_timeout", DefaultWriteTimeout)
	v.SetDefault("server.idle_timeout", DefaultIdleTimeout)
	v.SetDefault("upload.max_bytes", DefaultMaxUploadBytes)
	v.SetDefault("upload.allowed_types", DefaultAllowedTypes)
	v.SetDefault("retry.delay", DefaultRetryDelay)
	v.SetDefault("retry.probe_timeout", DefaultProbeTimeout)
	v.SetDefault("verbose", false)

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(dir + "/video-editor")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit path must exist; the default location is optional.
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	return c, nil
}
