package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full application configuration, loaded from config.json
// with environment variable overrides on top.
type Config struct {
	ServerConfig      ServerConfig      `json:"server"`
	DatabaseConfig    DatabaseConfig    `json:"database"`
	RedisConfig       RedisConfig       `json:"redis"`
	VaultConfig       VaultConfig       `json:"vault"`
	CoordinatorConfig CoordinatorConfig `json:"coordinator"`
	GovernorConfig    GovernorConfig    `json:"governor"`
	AdmissionConfig   AdmissionConfig   `json:"admission"`
	CapacityConfig    CapacityConfig    `json:"capacity"`
	LoggingConfig     LoggingConfig     `json:"logging"`
}

type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Production     bool     `json:"production"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type CoordinatorConfig struct {
	EmergencyEnableBots       int           `json:"emergency_enable_bots"`
	EmergencyDisableBots      int           `json:"emergency_disable_bots"`
	RateLimitHitsForEmergency int           `json:"rate_limit_hits_for_emergency"`
	PostRequestBase           time.Duration `json:"post_request_base_ns"`
	PostRequestPerBot         time.Duration `json:"post_request_per_bot_ns"`
}

type GovernorConfig struct {
	QueueCapacity  int           `json:"queue_capacity"`
	MinSpacing     time.Duration `json:"min_spacing_ns"`
	MaxPerMinute   int           `json:"max_per_minute"`
	MaxPerHour     int           `json:"max_per_hour"`
	CooldownPeriod time.Duration `json:"cooldown_period_ns"`
}

type AdmissionConfig struct {
	MaxSimultaneousTrades int     `json:"max_simultaneous_trades"`
	AllowHedging          bool    `json:"allow_hedging"`
	CooldownMultiplier    int     `json:"cooldown_multiplier"`
	MaxTradesPerHour      int     `json:"max_trades_per_hour"`
	MaxTradesPerDay       int     `json:"max_trades_per_day"`
	MaxExposurePercent    float64 `json:"max_exposure_percent"`
}

type CapacityConfig struct {
	MaxBotsPerCredential int `json:"max_bots_per_credential"`
	WarningThreshold     int `json:"warning_threshold"`
}

type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Pretty bool   `json:"pretty"` // console writer instead of JSON
}

// Load reads config.json when present and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &config, nil
}

// applyEnvOverrides applies environment variable overrides. Environment
// takes precedence over the file.
func applyEnvOverrides(cfg *Config) {
	// Server
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	cfg.ServerConfig.Production = getEnvOrDefault("PRODUCTION", boolStr(cfg.ServerConfig.Production)) == "true"

	// Database
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DB_ENABLED", boolStr(cfg.DatabaseConfig.Enabled)) == "true"
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}

	// Redis
	cfg.RedisConfig.Addr = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Addr)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Vault
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolStr(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)

	// Coordinator
	cfg.CoordinatorConfig.EmergencyEnableBots = getEnvIntOrDefault("COORD_EMERGENCY_ENABLE_BOTS", cfg.CoordinatorConfig.EmergencyEnableBots)
	cfg.CoordinatorConfig.EmergencyDisableBots = getEnvIntOrDefault("COORD_EMERGENCY_DISABLE_BOTS", cfg.CoordinatorConfig.EmergencyDisableBots)
	cfg.CoordinatorConfig.RateLimitHitsForEmergency = getEnvIntOrDefault("COORD_RATE_LIMIT_HITS", cfg.CoordinatorConfig.RateLimitHitsForEmergency)
	cfg.CoordinatorConfig.PostRequestBase = getEnvDurationOrDefault("COORD_POST_REQUEST_BASE", cfg.CoordinatorConfig.PostRequestBase)
	cfg.CoordinatorConfig.PostRequestPerBot = getEnvDurationOrDefault("COORD_POST_REQUEST_PER_BOT", cfg.CoordinatorConfig.PostRequestPerBot)

	// Governor
	cfg.GovernorConfig.QueueCapacity = getEnvIntOrDefault("GOVERNOR_QUEUE_CAPACITY", cfg.GovernorConfig.QueueCapacity)
	cfg.GovernorConfig.MinSpacing = getEnvDurationOrDefault("GOVERNOR_MIN_SPACING", cfg.GovernorConfig.MinSpacing)
	cfg.GovernorConfig.MaxPerMinute = getEnvIntOrDefault("GOVERNOR_MAX_PER_MINUTE", cfg.GovernorConfig.MaxPerMinute)
	cfg.GovernorConfig.MaxPerHour = getEnvIntOrDefault("GOVERNOR_MAX_PER_HOUR", cfg.GovernorConfig.MaxPerHour)
	cfg.GovernorConfig.CooldownPeriod = getEnvDurationOrDefault("GOVERNOR_COOLDOWN", cfg.GovernorConfig.CooldownPeriod)

	// Admission
	cfg.AdmissionConfig.MaxSimultaneousTrades = getEnvIntOrDefault("ADMISSION_MAX_SIMULTANEOUS", cfg.AdmissionConfig.MaxSimultaneousTrades)
	cfg.AdmissionConfig.AllowHedging = getEnvOrDefault("ADMISSION_ALLOW_HEDGING", boolStr(cfg.AdmissionConfig.AllowHedging)) == "true"
	cfg.AdmissionConfig.CooldownMultiplier = getEnvIntOrDefault("ADMISSION_COOLDOWN_MULTIPLIER", cfg.AdmissionConfig.CooldownMultiplier)
	cfg.AdmissionConfig.MaxTradesPerHour = getEnvIntOrDefault("ADMISSION_MAX_TRADES_PER_HOUR", cfg.AdmissionConfig.MaxTradesPerHour)
	cfg.AdmissionConfig.MaxTradesPerDay = getEnvIntOrDefault("ADMISSION_MAX_TRADES_PER_DAY", cfg.AdmissionConfig.MaxTradesPerDay)
	cfg.AdmissionConfig.MaxExposurePercent = getEnvFloatOrDefault("ADMISSION_MAX_EXPOSURE_PERCENT", cfg.AdmissionConfig.MaxExposurePercent)

	// Capacity
	cfg.CapacityConfig.MaxBotsPerCredential = getEnvIntOrDefault("CAPACITY_MAX_BOTS", cfg.CapacityConfig.MaxBotsPerCredential)
	cfg.CapacityConfig.WarningThreshold = getEnvIntOrDefault("CAPACITY_WARNING_THRESHOLD", cfg.CapacityConfig.WarningThreshold)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "info"
	}
	cfg.LoggingConfig.Pretty = getEnvOrDefault("LOG_PRETTY", boolStr(cfg.LoggingConfig.Pretty)) == "true"
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes a starter configuration file.
func GenerateSampleConfig(filename string) error {
	config := Config{
		ServerConfig: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		DatabaseConfig: DatabaseConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     5432,
			User:     "trader",
			Password: "change_me",
			Database: "trade_coordinator",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Addr: "localhost:6379",
		},
		VaultConfig: VaultConfig{
			Enabled:   false,
			Address:   "http://localhost:8200",
			MountPath: "secret",
		},
		CoordinatorConfig: CoordinatorConfig{
			EmergencyEnableBots:       15,
			EmergencyDisableBots:      10,
			RateLimitHitsForEmergency: 3,
			PostRequestBase:           500 * time.Millisecond,
			PostRequestPerBot:         100 * time.Millisecond,
		},
		GovernorConfig: GovernorConfig{
			QueueCapacity:  200,
			MinSpacing:     250 * time.Millisecond,
			MaxPerMinute:   60,
			MaxPerHour:     1200,
			CooldownPeriod: 2 * time.Minute,
		},
		AdmissionConfig: AdmissionConfig{
			MaxSimultaneousTrades: 3,
			CooldownMultiplier:    3,
			MaxTradesPerHour:      6,
			MaxTradesPerDay:       20,
			MaxExposurePercent:    50,
		},
		CapacityConfig: CapacityConfig{
			MaxBotsPerCredential: 8,
			WarningThreshold:     5,
		},
		LoggingConfig: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}
