package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rahul4469/meter-reader/internal/crypto"
)

// time left for the page render after the slowest allowed model call
const writeTimeoutMargin = 30 * time.Second

type Config struct {
	// Server config
	Server ServerConfig

	// CSRF and session config
	Security SecurityConfig

	// vision endpoint config
	Vision VisionConfig

	// upload limits
	Limits LimitsConfig

	// log level
	LogLevel slog.Level
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	Environment  string // development, staging, production
	BaseURL      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	CSRFSecret        string
	SessionSecret     string
	SessionCookieName string
	SessionDuration   time.Duration
	SecureCookies     bool // true in production
}

// VisionConfig describes the hosted chat-completion endpoint. The API key is
// not part of it: users type their own key into the settings page.
type VisionConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LimitsConfig holds request size limits.
type LimitsConfig struct {
	MaxUploadBytes int64
}

// DefaultVisionConfig matches the OpenAI vision model the app was built for.
func DefaultVisionConfig() VisionConfig {
	return VisionConfig{
		BaseURL:   "https://api.openai.com/v1",
		Model:     "gpt-4o",
		MaxTokens: 1000,
		Timeout:   60 * time.Second,
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Address is the listen address for the HTTP server.
func (c *Config) Address() string {
	return ":" + c.Server.Port
}

func Load() (*Config, error) {
	// .env is optional; in production the variables come from the platform
	_ = godotenv.Load()

	cfg := &Config{}

	var err error
	if cfg.Vision, err = loadVision(); err != nil {
		return nil, err
	}

	cfg.Server = ServerConfig{
		Port:        getEnvOrDefault("SERVER_PORT", "8080"),
		Environment: getEnvOrDefault("APP_ENV", "development"),
		BaseURL:     getEnvOrDefault("BASE_URL", "http://localhost:8080"),
	}
	if cfg.Server.ReadTimeout, err = getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	// the write timeout has to cover the model call plus rendering
	if cfg.Server.WriteTimeout, err = getDurationOrDefault("SERVER_WRITE_TIMEOUT", cfg.Vision.Timeout+writeTimeoutMargin); err != nil {
		return nil, err
	}
	if cfg.Server.IdleTimeout, err = getDurationOrDefault("SERVER_IDLE_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}

	sessionHours, err := strconv.Atoi(getEnvOrDefault("SESSION_DURATION_HOURS", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_DURATION_HOURS: %w", err)
	}

	cfg.Security = SecurityConfig{
		CSRFSecret:        os.Getenv("CSRF_SECRET"),
		SessionSecret:     os.Getenv("SESSION_SECRET"),
		SessionCookieName: getEnvOrDefault("SESSION_COOKIE_NAME", "meter_reader_session"),
		SessionDuration:   time.Duration(sessionHours) * time.Hour,
		SecureCookies:     cfg.Server.Environment == "production",
	}

	// Sessions live in memory only, so a throwaway secret is fine locally.
	if cfg.IsDevelopment() {
		if cfg.Security.CSRFSecret == "" {
			if cfg.Security.CSRFSecret, err = crypto.GenerateSecret(); err != nil {
				return nil, err
			}
		}
		if cfg.Security.SessionSecret == "" {
			if cfg.Security.SessionSecret, err = crypto.GenerateSecret(); err != nil {
				return nil, err
			}
		}
	}

	uploadMB, err := strconv.Atoi(getEnvOrDefault("MAX_UPLOAD_MB", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_MB: %w", err)
	}
	cfg.Limits = LimitsConfig{MaxUploadBytes: int64(uploadMB) << 20}

	if cfg.LogLevel, err = parseLevel(getEnvOrDefault("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadVision loads only what the console client needs.
func LoadVision() (VisionConfig, slog.Level, error) {
	_ = godotenv.Load()

	vision, err := loadVision()
	if err != nil {
		return VisionConfig{}, 0, err
	}
	if err := validateVision(vision); err != nil {
		return VisionConfig{}, 0, err
	}
	level, err := parseLevel(getEnvOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		return VisionConfig{}, 0, err
	}
	return vision, level, nil
}

// loadVision layers defaults, the optional YAML file and env overrides.
func loadVision() (VisionConfig, error) {
	vision := DefaultVisionConfig()

	if path := os.Getenv("VISION_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return vision, fmt.Errorf("read VISION_CONFIG_FILE: %w", err)
		}
		if err := yaml.Unmarshal(data, &vision); err != nil {
			return vision, fmt.Errorf("parse VISION_CONFIG_FILE: %w", err)
		}
	}

	vision.BaseURL = strings.TrimRight(getEnvOrDefault("VISION_BASE_URL", vision.BaseURL), "/")
	vision.Model = getEnvOrDefault("VISION_MODEL", vision.Model)

	maxTokens, err := strconv.Atoi(getEnvOrDefault("VISION_MAX_TOKENS", strconv.Itoa(vision.MaxTokens)))
	if err != nil {
		return vision, fmt.Errorf("invalid VISION_MAX_TOKENS: %w", err)
	}
	vision.MaxTokens = maxTokens

	if vision.Timeout, err = getDurationOrDefault("VISION_TIMEOUT", vision.Timeout); err != nil {
		return vision, err
	}
	return vision, nil
}

// validate checks that all required configuration is present and valid.
func (c *Config) validate() error {
	var errs []error

	if c.Security.CSRFSecret == "" {
		errs = append(errs, errors.New("CSRF_SECRET is required"))
	} else if len(c.Security.CSRFSecret) < 32 {
		errs = append(errs, errors.New("CSRF_SECRET must be at least 32 characters"))
	}

	if c.Security.SessionSecret == "" {
		errs = append(errs, errors.New("SESSION_SECRET is required"))
	} else if len(c.Security.SessionSecret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 characters"))
	}

	if c.Security.SessionDuration <= 0 {
		errs = append(errs, errors.New("SESSION_DURATION_HOURS must be > 0"))
	}

	if c.Limits.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_MB must be > 0"))
	}

	if err := validateVision(c.Vision); err != nil {
		errs = append(errs, err)
	} else if c.Server.WriteTimeout <= c.Vision.Timeout {
		errs = append(errs, fmt.Errorf("SERVER_WRITE_TIMEOUT (%s) must be longer than VISION_TIMEOUT (%s)", c.Server.WriteTimeout, c.Vision.Timeout))
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.Server.Environment] {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of: development, staging, production (got: %s)", c.Server.Environment))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%w", errors.Join(errs...))
	}

	return nil
}

func validateVision(v VisionConfig) error {
	var errs []error
	if v.BaseURL == "" {
		errs = append(errs, errors.New("VISION_BASE_URL must not be empty"))
	}
	if v.Model == "" {
		errs = append(errs, errors.New("VISION_MODEL must not be empty"))
	}
	if v.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("VISION_MAX_TOKENS must be > 0 (got %d)", v.MaxTokens))
	}
	if v.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("VISION_TIMEOUT must be > 0 (got %s)", v.Timeout))
	}
	return errors.Join(errs...)
}

// getEnvOrDefault returns the .env value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return level, nil
}
