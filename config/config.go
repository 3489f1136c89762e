// Package config provides configuration for the temporal-db CLI and
// engine, from environment variables with an optional YAML file
// override.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds engine configuration.
type Config struct {
	// DataDir is the root directory for database files.
	DataDir string `yaml:"dataDir"`
	// Database is the database name; the store lives at
	// <DataDir>/<Database>.db.
	Database string `yaml:"database"`
}

// FromEnv creates a Config from environment variables.
func FromEnv() *Config {
	return &Config{
		DataDir:  getEnv("TEMPORALDB_DATA", ".temporaldb"),
		Database: getEnv("TEMPORALDB_NAME", "default"),
	}
}

// Load returns the env config overlaid with values from a YAML file.
// A missing file is not an error; a malformed file is.
func Load(path string) (*Config, error) {
	cfg := FromEnv()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if file.DataDir != "" {
		cfg.DataDir = file.DataDir
	}
	if file.Database != "" {
		cfg.Database = file.Database
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
