package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// PasswordEnvVar supplies the admin password for rows that have none.
const PasswordEnvVar = "CRESTPROV_PASSWORD"

// HomeEnvVar moves the crestprov state directory away from the working directory.
const HomeEnvVar = "CRESTPROV_HOME"

// GetHome returns the crestprov state directory.
// Priority order:
//  1. CRESTPROV_HOME environment variable (if set)
//  2. .crestprov in the current working directory
//
// The directory is not created; the run lock, logger and history store
// create what they write into.
func GetHome() (string, error) {
	if home := os.Getenv(HomeEnvVar); home != "" {
		return filepath.Abs(home)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return filepath.Join(cwd, ".crestprov"), nil
}

// LoadSettings loads the settings file at path, or config.yaml under the
// crestprov home when path is empty, and moves the default log directory and
// history database under the home. A path given explicitly must exist.
func LoadSettings(path string) (*Config, error) {
	home, err := GetHome()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = filepath.Join(home, "config.yaml")
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("settings file: %w", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.ResolveHome(home)
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from a .env file into the process environment.
// Variables already set are left alone. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// PasswordFromEnv returns the admin password from the environment, if set.
func PasswordFromEnv() (string, bool) {
	value, ok := os.LookupEnv(PasswordEnvVar)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
