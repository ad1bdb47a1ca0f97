package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location, relative to the working
// directory.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                    string `yaml:"port"`
	LogLevel                string `yaml:"logLevel"`
	DatabaseURL             string `yaml:"databaseURL"`
	DBPoolMin               int    `yaml:"dbPoolMin"`
	DBPoolMax               int    `yaml:"dbPoolMax"`
	JWTSecret               string `yaml:"jwtSecret"`
	AccessTokenTTL          string `yaml:"accessTokenTTL"`
	RefreshTokenTTL         string `yaml:"refreshTokenTTL"`
	JWTLeeway               string `yaml:"jwtLeeway"`
	GoogleClientID          string `yaml:"googleClientID"`
	GoogleJWKSURL           string `yaml:"googleJwksURL"`
	GeminiAPIKey            string `yaml:"geminiAPIKey"`
	GeminiModel             string `yaml:"geminiModel"`
	RedisAddr               string `yaml:"redisAddr"`
	RedisPassword           string `yaml:"redisPassword"`
	QueryRateLimitPerMinute int    `yaml:"queryRateLimitPerMinute"`
	AllowedOrigin           string `yaml:"allowedOrigin"`
}

// Load reads config from path (defaults to config.yaml). Environment
// variables override file values so secrets never need to live on disk.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("DB_POOL_MIN"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.DBPoolMin = n
		}
	}
	if v := os.Getenv("DB_POOL_MAX"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.DBPoolMax = n
		}
	}
	if v := os.Getenv("JWT_SECRET_KEY"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("ACCESS_TOKEN_TTL"); v != "" {
		cfg.AccessTokenTTL = strings.TrimSpace(v)
	}
	if v := os.Getenv("REFRESH_TOKEN_TTL"); v != "" {
		cfg.RefreshTokenTTL = strings.TrimSpace(v)
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = strings.TrimSpace(v)
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.GoogleClientID = strings.TrimSpace(v)
	}
	if v := os.Getenv("GOOGLE_JWKS_URL"); v != "" {
		cfg.GoogleJWKSURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.GeminiModel = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("QUERY_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.QueryRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("ALLOWED_ORIGIN"); v != "" {
		cfg.AllowedOrigin = strings.TrimSpace(v)
	}
	if cfg.DBPoolMin == 0 {
		cfg.DBPoolMin = 1
	}
	if cfg.DBPoolMax == 0 {
		cfg.DBPoolMax = 10
	}
	if cfg.QueryRateLimitPerMinute == 0 {
		cfg.QueryRateLimitPerMinute = 5
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set JWT_SECRET_KEY)")
	}
	if strings.TrimSpace(cfg.GoogleClientID) == "" {
		return errors.New("config: googleClientID is required (set in config.yaml or GOOGLE_CLIENT_ID)")
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return errors.New("config: geminiAPIKey is required (set GEMINI_API_KEY)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for distributed rate limiting")
	}
	if cfg.DBPoolMin < 0 || cfg.DBPoolMax < cfg.DBPoolMin {
		return errors.New("config: database pool bounds must satisfy 0 <= dbPoolMin <= dbPoolMax")
	}
	if cfg.QueryRateLimitPerMinute < 0 {
		return errors.New("config: queryRateLimitPerMinute must be >= 0")
	}
	return nil
}

// ParseTTL parses an optional duration string, falling back to def when the
// value is empty.
func ParseTTL(value string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return dur, nil
}
