package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the migration configuration
type Config struct {
	SourceDriver   string `yaml:"source_driver" env:"HL_ONS_DRIVER"`
	SourceHost     string `yaml:"source_host" env:"HL_ONS_HOST"`
	SourcePort     int    `yaml:"source_port" env:"HL_ONS_PORT"`
	SourceDB       string `yaml:"source_db" env:"HL_ONS_DB"`
	SourceUser     string `yaml:"source_user" env:"HL_ONS_USER"`
	SourcePassword string `yaml:"source_password" env:"HL_ONS_PW"`
	TablePrefix    string `yaml:"table_prefix" env:"HL_ONS_PREFIX"`
	AttachmentsDir string `yaml:"attachments_dir" env:"HL_ONS_ATTACHMENTS_DIR"`
	BatchSize      int    `yaml:"batch_size" env:"HL_BATCH_SIZE"`

	TargetDBPath string `yaml:"target_db_path" env:"HL_TARGET_DB"`
	UploadsDir   string `yaml:"uploads_dir" env:"HL_UPLOADS_DIR"`
	UploadsMaxMB int    `yaml:"uploads_max_mb" env:"HL_UPLOADS_MAX_MB"`

	OrphanPolicy      string        `yaml:"orphan_policy" env:"HL_ORPHAN_POLICY"`
	Stages            []string      `yaml:"stages" env:"HL_STAGES" envSeparator:","`
	AttachmentWorkers int           `yaml:"attachment_workers" env:"HL_ATTACHMENT_WORKERS"`
	UnknownUserID     int64         `yaml:"unknown_user_id" env:"HL_UNKNOWN_USER_ID"`
	RetryMaxElapsed   time.Duration `yaml:"retry_max_elapsed" env:"HL_RETRY_MAX_ELAPSED"`
	PermalinkBase     string        `yaml:"permalink_base" env:"HL_PERMALINK_BASE"`
	DryRun            bool          `yaml:"dry_run" env:"HL_DRY_RUN"`

	LogLevel  string `yaml:"log_level" env:"HL_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"HL_LOG_FORMAT"`
	Telemetry bool   `yaml:"telemetry" env:"HL_OTEL_ENABLED"`
}

// Defaults returns a Config populated with built-in defaults.
func Defaults() *Config {
	return &Config{
		SourceDriver:      "sqlserver",
		SourceHost:        "localhost",
		TablePrefix:       "dbo.",
		AttachmentsDir:    "/path/to/attachments",
		BatchSize:         1000,
		TargetDBPath:      "hlmigrate.db",
		UploadsDir:        "uploads",
		UploadsMaxMB:      50,
		OrphanPolicy:      "promote",
		AttachmentWorkers: 4,
		UnknownUserID:     -1,
		RetryMaxElapsed:   30 * time.Second,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/hlmigrate/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := Defaults()

	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// YAML config is optional
	_ = loadYAMLConfig(cfg)

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if pw := getEnvOrFile("HL_ONS_PW", "HL_ONS_PW_FILE"); pw != "" {
		cfg.SourcePassword = pw
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch c.SourceDriver {
	case "sqlserver", "mysql", "sqlite3":
	default:
		return fmt.Errorf("invalid source_driver %q: must be one of sqlserver, mysql, sqlite3", c.SourceDriver)
	}
	switch c.OrphanPolicy {
	case "promote", "skip":
	default:
		return fmt.Errorf("invalid orphan_policy %q: must be promote or skip", c.OrphanPolicy)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.AttachmentWorkers < 0 {
		return fmt.Errorf("attachment_workers must not be negative, got %d", c.AttachmentWorkers)
	}
	return nil
}

// loadYAMLConfig loads configuration from ~/.config/hlmigrate/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "hlmigrate", "config.yaml")
	return LoadYAMLFile(configPath, cfg)
}

// LoadYAMLFile merges a YAML file into cfg.
func LoadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimRight(string(data), "\r\n")
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}
