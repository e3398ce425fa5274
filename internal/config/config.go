package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// TimingConfig holds the delays and timeouts used while talking to devices.
type TimingConfig struct {
	// ConnectTimeout bounds TCP connect plus SSH handshake
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// SettleDelay is waited after a session opens and after account creation
	SettleDelay time.Duration `yaml:"settle_delay"`

	// ReconnectDelay is waited between closing the factory session and reconnecting
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// RetryBackoff is waited before the single post-setup reconnect retry
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// CommandTimeout bounds the read after each command
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// IdleTimeout ends a command read once output stops arriving
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// DevicePause is waited between sequentially processed devices
	DevicePause time.Duration `yaml:"device_pause"`
}

// SetupConfig describes the factory account and the first-boot admin wizard.
type SetupConfig struct {
	// FactoryUsername is the default account on factory-fresh devices
	FactoryUsername string `yaml:"factory_username"`

	// FactoryPassword is the default password on factory-fresh devices
	FactoryPassword string `yaml:"factory_password"`

	// PromptTimeout bounds each wait for a wizard prompt
	PromptTimeout time.Duration `yaml:"prompt_timeout"`

	// ConfirmTimeout bounds the wait for the account-created confirmation
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`

	// WizardPatterns identify the admin creation wizard (case-insensitive)
	WizardPatterns []string `yaml:"wizard_patterns"`

	// RejectionPatterns mark a wizard step as refused (case-insensitive)
	RejectionPatterns []string `yaml:"rejection_patterns"`
}

// HistoryConfig controls the run history database.
type HistoryConfig struct {
	// Enabled records every run in the history database
	Enabled bool `yaml:"enabled"`

	// DBPath is the path to the sqlite database
	DBPath string `yaml:"db_path"`
}

// Config represents crestprov tool settings
type Config struct {
	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run and device logs will be written
	LogDir string `yaml:"log_dir"`

	// ReportDir is the directory where CSV and JSON reports will be written
	ReportDir string `yaml:"report_dir"`

	// Parallelism is the number of devices processed at once (1 = sequential)
	Parallelism int `yaml:"parallelism"`

	// DefaultUsername is used for rows without a username column
	DefaultUsername string `yaml:"default_username"`

	// Port is the SSH port for rows without a port column
	Port int `yaml:"port"`

	// PromptPattern overrides the regular expression that detects the device prompt
	PromptPattern string `yaml:"prompt_pattern"`

	// ErrorPatterns mark a command response as failed (case-insensitive)
	ErrorPatterns []string `yaml:"error_patterns"`

	// Timing contains connection and read timing
	Timing TimingConfig `yaml:"timing"`

	// Setup contains factory account and wizard settings
	Setup SetupConfig `yaml:"setup"`

	// History contains run history settings
	History HistoryConfig `yaml:"history"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel:        "info",
		LogDir:          ".crestprov/logs",
		ReportDir:       ".",
		Parallelism:     1,
		DefaultUsername: "admin",
		Port:            22,
		ErrorPatterns:   []string{"Bad or Incomplete Command", "ERROR:"},
		Timing: TimingConfig{
			ConnectTimeout: 10 * time.Second,
			SettleDelay:    3 * time.Second,
			ReconnectDelay: 2 * time.Second,
			RetryBackoff:   5 * time.Second,
			CommandTimeout: 10 * time.Second,
			IdleTimeout:    1500 * time.Millisecond,
			DevicePause:    1 * time.Second,
		},
		Setup: SetupConfig{
			FactoryUsername:   "Crestron",
			FactoryPassword:   "",
			PromptTimeout:     5 * time.Second,
			ConfirmTimeout:    15 * time.Second,
			WizardPatterns:    []string{"create a local administrator", "please create"},
			RejectionPatterns: []string{"invalid", "error", "failed", "not allowed", "do not match"},
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  ".crestprov/history.db",
		},
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are strings in YAML ("10s", "1500ms")
	type yamlTiming struct {
		ConnectTimeout string `yaml:"connect_timeout"`
		SettleDelay    string `yaml:"settle_delay"`
		ReconnectDelay string `yaml:"reconnect_delay"`
		RetryBackoff   string `yaml:"retry_backoff"`
		CommandTimeout string `yaml:"command_timeout"`
		IdleTimeout    string `yaml:"idle_timeout"`
		DevicePause    string `yaml:"device_pause"`
	}
	type yamlSetup struct {
		FactoryUsername   *string  `yaml:"factory_username"`
		FactoryPassword   *string  `yaml:"factory_password"`
		PromptTimeout     string   `yaml:"prompt_timeout"`
		ConfirmTimeout    string   `yaml:"confirm_timeout"`
		WizardPatterns    []string `yaml:"wizard_patterns"`
		RejectionPatterns []string `yaml:"rejection_patterns"`
	}
	type yamlHistory struct {
		Enabled *bool  `yaml:"enabled"`
		DBPath  string `yaml:"db_path"`
	}
	type yamlConfig struct {
		LogLevel        string      `yaml:"log_level"`
		LogDir          string      `yaml:"log_dir"`
		ReportDir       string      `yaml:"report_dir"`
		Parallelism     int         `yaml:"parallelism"`
		DefaultUsername string      `yaml:"default_username"`
		Port            int         `yaml:"port"`
		PromptPattern   string      `yaml:"prompt_pattern"`
		ErrorPatterns   []string    `yaml:"error_patterns"`
		Timing          yamlTiming  `yaml:"timing"`
		Setup           yamlSetup   `yaml:"setup"`
		History         yamlHistory `yaml:"history"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.ReportDir != "" {
		cfg.ReportDir = yamlCfg.ReportDir
	}
	if yamlCfg.Parallelism != 0 {
		cfg.Parallelism = yamlCfg.Parallelism
	}
	if yamlCfg.DefaultUsername != "" {
		cfg.DefaultUsername = yamlCfg.DefaultUsername
	}
	if yamlCfg.Port != 0 {
		cfg.Port = yamlCfg.Port
	}
	if yamlCfg.PromptPattern != "" {
		cfg.PromptPattern = yamlCfg.PromptPattern
	}
	if yamlCfg.ErrorPatterns != nil {
		cfg.ErrorPatterns = yamlCfg.ErrorPatterns
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"timing.connect_timeout", yamlCfg.Timing.ConnectTimeout, &cfg.Timing.ConnectTimeout},
		{"timing.settle_delay", yamlCfg.Timing.SettleDelay, &cfg.Timing.SettleDelay},
		{"timing.reconnect_delay", yamlCfg.Timing.ReconnectDelay, &cfg.Timing.ReconnectDelay},
		{"timing.retry_backoff", yamlCfg.Timing.RetryBackoff, &cfg.Timing.RetryBackoff},
		{"timing.command_timeout", yamlCfg.Timing.CommandTimeout, &cfg.Timing.CommandTimeout},
		{"timing.idle_timeout", yamlCfg.Timing.IdleTimeout, &cfg.Timing.IdleTimeout},
		{"timing.device_pause", yamlCfg.Timing.DevicePause, &cfg.Timing.DevicePause},
		{"setup.prompt_timeout", yamlCfg.Setup.PromptTimeout, &cfg.Setup.PromptTimeout},
		{"setup.confirm_timeout", yamlCfg.Setup.ConfirmTimeout, &cfg.Setup.ConfirmTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s format %q: %w", d.key, d.value, err)
		}
		*d.dst = parsed
	}

	// Factory credentials may legitimately be set to an empty string
	if yamlCfg.Setup.FactoryUsername != nil {
		cfg.Setup.FactoryUsername = *yamlCfg.Setup.FactoryUsername
	}
	if yamlCfg.Setup.FactoryPassword != nil {
		cfg.Setup.FactoryPassword = *yamlCfg.Setup.FactoryPassword
	}
	if yamlCfg.Setup.WizardPatterns != nil {
		cfg.Setup.WizardPatterns = yamlCfg.Setup.WizardPatterns
	}
	if yamlCfg.Setup.RejectionPatterns != nil {
		cfg.Setup.RejectionPatterns = yamlCfg.Setup.RejectionPatterns
	}

	if yamlCfg.History.Enabled != nil {
		cfg.History.Enabled = *yamlCfg.History.Enabled
	}
	if yamlCfg.History.DBPath != "" {
		cfg.History.DBPath = yamlCfg.History.DBPath
	}

	return cfg, nil
}

// ResolveHome places the default state paths under home. Paths changed by a
// settings file are kept as written.
func (c *Config) ResolveHome(home string) {
	defaults := DefaultConfig()
	if c.LogDir == defaults.LogDir {
		c.LogDir = filepath.Join(home, "logs")
	}
	if c.History.DBPath == defaults.History.DBPath {
		c.History.DBPath = filepath.Join(home, "history.db")
	}
}

// FlagOverrides carries CLI flag values; nil fields were not set on the command line.
type FlagOverrides struct {
	Parallelism    *int
	ConnectTimeout *time.Duration
	CommandTimeout *time.Duration
	LogDir         *string
	ReportDir      *string
	LogLevel       *string
	NoHistory      *bool
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(flags FlagOverrides) {
	if flags.Parallelism != nil {
		c.Parallelism = *flags.Parallelism
	}
	if flags.ConnectTimeout != nil {
		c.Timing.ConnectTimeout = *flags.ConnectTimeout
	}
	if flags.CommandTimeout != nil {
		c.Timing.CommandTimeout = *flags.CommandTimeout
	}
	if flags.LogDir != nil {
		c.LogDir = *flags.LogDir
	}
	if flags.ReportDir != nil {
		c.ReportDir = *flags.ReportDir
	}
	if flags.LogLevel != nil {
		c.LogLevel = *flags.LogLevel
	}
	if flags.NoHistory != nil && *flags.NoHistory {
		c.History.Enabled = false
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be >= 1, got %d", c.Parallelism)
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.DefaultUsername == "" {
		return fmt.Errorf("default_username cannot be empty")
	}
	if c.Setup.FactoryUsername == "" {
		return fmt.Errorf("setup.factory_username cannot be empty")
	}

	if c.Timing.ConnectTimeout <= 0 {
		return fmt.Errorf("timing.connect_timeout must be > 0, got %v", c.Timing.ConnectTimeout)
	}
	if c.Timing.CommandTimeout <= 0 {
		return fmt.Errorf("timing.command_timeout must be > 0, got %v", c.Timing.CommandTimeout)
	}
	if c.Setup.PromptTimeout <= 0 || c.Setup.ConfirmTimeout <= 0 {
		return fmt.Errorf("setup timeouts must be > 0")
	}
	delays := map[string]time.Duration{
		"timing.settle_delay":    c.Timing.SettleDelay,
		"timing.reconnect_delay": c.Timing.ReconnectDelay,
		"timing.retry_backoff":   c.Timing.RetryBackoff,
		"timing.idle_timeout":    c.Timing.IdleTimeout,
		"timing.device_pause":    c.Timing.DevicePause,
	}
	for key, d := range delays {
		if d < 0 {
			return fmt.Errorf("%s must be >= 0, got %v", key, d)
		}
	}

	if c.PromptPattern != "" {
		if _, err := regexp.Compile(c.PromptPattern); err != nil {
			return fmt.Errorf("invalid prompt_pattern: %w", err)
		}
	}

	if c.History.Enabled && c.History.DBPath == "" {
		return fmt.Errorf("history.db_path cannot be empty when history is enabled")
	}

	return nil
}
