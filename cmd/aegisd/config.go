package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is aegisd's deployment configuration: the daemon-level
// settings that sit above the ambient agent config the runtime packages
// already carry (logging, resilience, AI provider selection).
type AppConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	DBPath          string        `yaml:"dbPath"`
	BackupDir       string        `yaml:"backupDir"`
	RedisURL        string        `yaml:"redisUrl"` // empty: in-memory queue
	AnthropicAPIKey string        `yaml:"anthropicApiKey"`
	AnthropicBaseURL string       `yaml:"anthropicBaseUrl"`
	PlannerModel    string        `yaml:"plannerModel"`
	ValidatorModel  string        `yaml:"validatorModel"`
	MaxWorkers      int           `yaml:"maxWorkers"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	LogLevel        string        `yaml:"logLevel"`
	LogJSON         bool          `yaml:"logJson"`
}

// defaultAppConfig mirrors the layered-priority pattern the ambient config
// package uses: defaults, then file, then environment.
func defaultAppConfig() AppConfig {
	return AppConfig{
		ListenAddr:      ":8090",
		DBPath:          "./data/aegis.db",
		BackupDir:       "./data/backups",
		PlannerModel:    "claude-sonnet-4-5",
		ValidatorModel:  "claude-opus-4-1",
		MaxWorkers:      5,
		PollInterval:    500 * time.Millisecond,
		LogLevel:        "info",
		LogJSON:         true,
	}
}

// loadAppConfig builds an AppConfig from defaults, an optional YAML file,
// then environment variables, in that priority order.
func loadAppConfig(path string) (AppConfig, error) {
	cfg := defaultAppConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("AEGIS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("AEGIS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AEGIS_BACKUP_DIR"); v != "" {
		cfg.BackupDir = v
	}
	if v := os.Getenv("AEGIS_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("AEGIS_ANTHROPIC_API_KEY"); v != "" {
		cfg.AnthropicAPIKey = v
	}
	if v := os.Getenv("AEGIS_ANTHROPIC_BASE_URL"); v != "" {
		cfg.AnthropicBaseURL = v
	}
	if v := os.Getenv("AEGIS_PLANNER_MODEL"); v != "" {
		cfg.PlannerModel = v
	}
	if v := os.Getenv("AEGIS_VALIDATOR_MODEL"); v != "" {
		cfg.ValidatorModel = v
	}
	if v := os.Getenv("AEGIS_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxWorkers = n
		}
	}
	if v := os.Getenv("AEGIS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
