package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config is the application configuration loaded from a YAML file.
type Config struct {
	Logger     Logger     `yaml:"logger"`
	Store      Store      `yaml:"store"`
	Manifests  Manifests  `yaml:"manifests"`
	Artifacts  Artifacts  `yaml:"artifacts"`
	Exporter   Exporter   `yaml:"exporter"`
	HTTPClient HTTPClient `yaml:"http_client"`
}

type Logger struct {
	Level           string `yaml:"level"`
	JSONFormat      bool   `yaml:"json_format"`
	IncludeLocation bool   `yaml:"include_location"`
}

type Store struct {
	Path string `yaml:"path"`
}

type Manifests struct {
	Dir string `yaml:"dir"`
}

type Artifacts struct {
	Home        string `yaml:"home"`
	StorageType string `yaml:"storage_type"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
}

type Exporter struct {
	URL      string `yaml:"url"`
	TokenEnv string `yaml:"token_env"`
}

type HTTPClient struct {
	RetryCount       int           `yaml:"retry_count"`
	RetryWaitTime    time.Duration `yaml:"retry_wait_time"`
	RetryMaxWaitTime time.Duration `yaml:"retry_max_wait_time"`
	Timeout          time.Duration `yaml:"timeout"`
}

// ValidateConfigPath checks that the config path points at a regular file.
func ValidateConfigPath(path string) error {
	s, err := os.Stat(path)
	if err != nil {
		return err
	}
	if s.IsDir() {
		return fmt.Errorf("'%s' is a directory, not a file", path)
	}
	return nil
}

// LoadYAML decodes a YAML file into data.
func LoadYAML(configPath string, data interface{}) error {
	if err := ValidateConfigPath(configPath); err != nil {
		return err
	}

	file, err := os.Open(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	d := yaml.NewDecoder(file)
	if err := d.Decode(data); err != nil {
		return err
	}

	return nil
}

// NewConfig loads the application configuration. A missing file yields the
// defaults rather than an error, so the CLI works without any setup.
func NewConfig(configPath string) (*Config, error) {
	config := &Config{}

	if configPath != "" {
		if err := LoadYAML(configPath, config); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	applyDefaults(config)
	return config, nil
}

func applyDefaults(cfg *Config) {
	home := dataHome()
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(home, "runs.db")
	}
	if cfg.Manifests.Dir == "" {
		cfg.Manifests.Dir = filepath.Join(home, "manifests")
	}
	if cfg.Artifacts.Home == "" {
		cfg.Artifacts.Home = filepath.Join(home, "artifacts")
	}
	if cfg.Artifacts.StorageType == "" {
		cfg.Artifacts.StorageType = "local"
	}
	if cfg.Exporter.TokenEnv == "" {
		cfg.Exporter.TokenEnv = "SCANTRAIL_EXPORT_TOKEN"
	}
	if cfg.HTTPClient.Timeout == 0 {
		cfg.HTTPClient.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient.RetryWaitTime == 0 {
		cfg.HTTPClient.RetryWaitTime = 1 * time.Second
	}
	if cfg.HTTPClient.RetryMaxWaitTime == 0 {
		cfg.HTTPClient.RetryMaxWaitTime = 10 * time.Second
	}
}

func dataHome() string {
	if env := os.Getenv("SCANTRAIL_HOME"); env != "" {
		return env
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".scantrail"
	}
	return filepath.Join(homeDir, ".scantrail")
}
