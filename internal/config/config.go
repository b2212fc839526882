package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	APIBaseURL     string        `mapstructure:"API_BASE_URL"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	AuthToken      string        `mapstructure:"AUTH_TOKEN"`
	AuthTokenFile  string        `mapstructure:"AUTH_TOKEN_FILE"`
	UserID         string        `mapstructure:"USER_ID"`
	MaxFiles       int           `mapstructure:"MAX_FILES"`
	MaxFileSizeRaw string        `mapstructure:"MAX_FILE_SIZE"`
	HTTPTimeout    time.Duration `mapstructure:"HTTP_TIMEOUT"`
	PreviewPort    string        `mapstructure:"PREVIEW_PORT"`

	// MaxFileSize is MAX_FILE_SIZE in bytes.
	MaxFileSize int64 `mapstructure:"-"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("API_BASE_URL", "http://localhost:2025/api")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTH_TOKEN_FILE", defaultTokenFile())
	v.SetDefault("MAX_FILES", 20)
	v.SetDefault("MAX_FILE_SIZE", "10M")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("PREVIEW_PORT", "8090")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"API_BASE_URL", "ENV", "LOG_LEVEL", "AUTH_TOKEN", "AUTH_TOKEN_FILE",
		"USER_ID", "MAX_FILES", "MAX_FILE_SIZE", "HTTP_TIMEOUT", "PREVIEW_PORT",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	size, err := ParseSize(cfg.MaxFileSizeRaw)
	if err != nil {
		return nil, fmt.Errorf("MAX_FILE_SIZE: %w", err)
	}
	cfg.MaxFileSize = size

	return cfg, nil
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".patient-files", "token")
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Level returns the zerolog level named by LOG_LEVEL.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate rejects settings the client cannot work with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return fmt.Errorf("API_BASE_URL is not a valid URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute http(s) URL, got %q", c.APIBaseURL)
	}
	if c.MaxFiles <= 0 {
		return fmt.Errorf("MAX_FILES must be positive, got %d", c.MaxFiles)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}
	// The workbench request body limit is MAX_FILES * MAX_FILE_SIZE.
	if int64(c.MaxFiles) > math.MaxInt64/c.MaxFileSize {
		return fmt.Errorf("MAX_FILES * MAX_FILE_SIZE overflows, got %d * %d", c.MaxFiles, c.MaxFileSize)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	if port, err := strconv.Atoi(c.PreviewPort); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("PREVIEW_PORT must be a port number, got %q", c.PreviewPort)
	}
	return nil
}

// ParseSize parses a human-readable size ("10M", "512K", "1G", "1048576")
// into bytes. The suffixes are binary multiples; a trailing B is allowed.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	var multiplier int64 = 1
	s = strings.TrimSuffix(s, "B")
	switch {
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %d", n)
	}
	if n > math.MaxInt64/multiplier {
		return 0, fmt.Errorf("size %d x %d overflows", n, multiplier)
	}
	return n * multiplier, nil
}
