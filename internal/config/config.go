// Package config loads rankmirror settings from a YAML or TOML file, an
// optional .env credentials file and environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "./config/config.yaml"

// Environment variables that override file values.
const (
	EnvAPIKey          = "TOPVISOR_API"
	EnvUserID          = "TOPVISOR_USER_ID"
	EnvLegacyUserID    = "USER_ID"
	EnvSpreadsheetID   = "GOOGLE_SHEETS_ID"
	EnvCredentialsFile = "SERVICE_FILE_NAME"
	EnvDatabasePath    = "RANKMIRROR_DB"
	EnvLogLevel        = "RANKMIRROR_LOG_LEVEL"
)

type Config struct {
	Database struct {
		Path string `yaml:"path" toml:"path"`
	} `yaml:"database" toml:"database"`

	Topvisor struct {
		BaseURL           string        `yaml:"base_url" toml:"base_url"`
		UserID            string        `yaml:"user_id,omitempty" toml:"user_id,omitempty"`
		APIKey            string        `yaml:"api_key,omitempty" toml:"api_key,omitempty"`
		RequestsPerSecond float64       `yaml:"requests_per_second" toml:"requests_per_second"`
		Timeout           time.Duration `yaml:"timeout" toml:"timeout"`
	} `yaml:"topvisor" toml:"topvisor"`

	Sheets struct {
		SpreadsheetID   string `yaml:"spreadsheet_id,omitempty" toml:"spreadsheet_id,omitempty"`
		CredentialsFile string `yaml:"credentials_file,omitempty" toml:"credentials_file,omitempty"`
		SheetName       string `yaml:"sheet_name" toml:"sheet_name"`
		RangeStart      string `yaml:"range_start" toml:"range_start"`
	} `yaml:"sheets" toml:"sheets"`

	Sync struct {
		DaysBack int           `yaml:"days_back" toml:"days_back"`
		Interval time.Duration `yaml:"interval" toml:"interval"`
	} `yaml:"sync" toml:"sync"`

	Logging struct {
		Level  string `yaml:"level" toml:"level"`
		Format string `yaml:"format" toml:"format"` // console or json
		Output string `yaml:"output" toml:"output"` // stdout, stderr or a file path
	} `yaml:"logging" toml:"logging"`

	Projects []ProjectConfig `yaml:"projects" toml:"projects"`
}

// ProjectConfig identifies one project/region pair to sync. Pointers let a
// missing key be told apart from an explicit zero.
type ProjectConfig struct {
	ProjectID   *int64 `yaml:"project_id" toml:"project_id"`
	RegionIndex *int64 `yaml:"region_index" toml:"region_index"`
	Name        string `yaml:"name,omitempty" toml:"name,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Database.Path = "./rankmirror.db"
	cfg.Topvisor.BaseURL = "https://api.topvisor.com"
	cfg.Topvisor.RequestsPerSecond = 5
	cfg.Topvisor.Timeout = 30 * time.Second
	cfg.Sheets.SheetName = "Positions"
	cfg.Sheets.RangeStart = "A1"
	cfg.Sync.DaysBack = 3
	cfg.Sync.Interval = 24 * time.Hour
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"
	cfg.Logging.Output = "stderr"
	cfg.Projects = []ProjectConfig{}
	return cfg
}

// Load reads path over the defaults. A missing file is not an error; the
// defaults plus environment are used. A .env file next to path is loaded
// into the environment first without overriding variables already set.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := Unmarshal(path, data, cfg); err != nil {
			return nil, err
		}
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Unmarshal decodes data into cfg, choosing TOML or YAML by path extension.
func Unmarshal(path string, data []byte, cfg *Config) error {
	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Marshal encodes cfg in the format implied by path's extension.
func Marshal(path string, cfg *Config) ([]byte, error) {
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}
		return buf.Bytes(), nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvAPIKey); ok && v != "" {
		cfg.Topvisor.APIKey = v
	}
	if v, ok := os.LookupEnv(EnvUserID); ok && v != "" {
		cfg.Topvisor.UserID = v
	} else if v, ok := os.LookupEnv(EnvLegacyUserID); ok && v != "" && cfg.Topvisor.UserID == "" {
		cfg.Topvisor.UserID = v
	}
	if v, ok := os.LookupEnv(EnvSpreadsheetID); ok && v != "" {
		cfg.Sheets.SpreadsheetID = v
	}
	if v, ok := os.LookupEnv(EnvCredentialsFile); ok && v != "" {
		cfg.Sheets.CredentialsFile = v
	}
	if v, ok := os.LookupEnv(EnvDatabasePath); ok && v != "" {
		cfg.Database.Path = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		cfg.Logging.Level = v
	}
	if cfg.Topvisor.UserID != "" {
		if _, err := strconv.ParseInt(cfg.Topvisor.UserID, 10, 64); err != nil {
			return fmt.Errorf("topvisor user id %q is not numeric", cfg.Topvisor.UserID)
		}
	}
	return nil
}

// Validate checks the settings a sync needs. When publish is false the
// spreadsheet settings are not required.
func (c *Config) Validate(publish bool) error {
	var errs []error
	if c.Topvisor.APIKey == "" {
		errs = append(errs, fmt.Errorf("topvisor api key is required (%s)", EnvAPIKey))
	}
	if c.Topvisor.UserID == "" {
		errs = append(errs, fmt.Errorf("topvisor user id is required (%s)", EnvUserID))
	}
	if len(c.Projects) == 0 {
		errs = append(errs, errors.New("at least one project is required"))
	}
	if c.Sync.DaysBack < 0 {
		errs = append(errs, fmt.Errorf("sync.days_back must not be negative, got %d", c.Sync.DaysBack))
	}
	if publish {
		errs = append(errs, c.ValidatePublish())
	}
	return errors.Join(errs...)
}

// ValidatePublish checks only the spreadsheet settings.
func (c *Config) ValidatePublish() error {
	var errs []error
	if c.Sheets.SpreadsheetID == "" {
		errs = append(errs, fmt.Errorf("spreadsheet id is required (%s)", EnvSpreadsheetID))
	}
	if c.Sheets.CredentialsFile == "" {
		errs = append(errs, fmt.Errorf("service account credentials file is required (%s)", EnvCredentialsFile))
	}
	return errors.Join(errs...)
}
