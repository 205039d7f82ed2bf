package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/botctl/internal/core/deployment"
	"github.com/artpar/botctl/internal/core/domain"
	"github.com/artpar/botctl/internal/engine"
	"github.com/artpar/botctl/internal/shell/workspace"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Log       LogConfig       `mapstructure:"log"`
	Instance  InstanceConfig  `mapstructure:"instance"`
	App       AppConfig       `mapstructure:"app"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logs      LogsConfig      `mapstructure:"logs"`
}

// WorkspaceConfig holds the workspace root.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host        string        `mapstructure:"host"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// InstanceConfig holds the settings written into every instance.
type InstanceConfig struct {
	Prefix      string `mapstructure:"prefix"`
	Service     string `mapstructure:"service"`
	Timezone    string `mapstructure:"timezone"`
	MaxBackupMB int    `mapstructure:"max_backup_mb"`
	DataDir     string `mapstructure:"data_dir"`
	DBFile      string `mapstructure:"db_file"`
	BackupSrc   string `mapstructure:"backup_src"`
}

// AppConfig locates the bot application bundle.
type AppConfig struct {
	SourceDir  string `mapstructure:"source_dir"`
	Entrypoint string `mapstructure:"entrypoint"`
}

// JournalConfig holds operation journal configuration.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// SecurityConfig holds privilege settings.
type SecurityConfig struct {
	RequireRoot bool `mapstructure:"require_root"`
}

// LogsConfig holds defaults of the logs command.
type LogsConfig struct {
	Tail int `mapstructure:"tail"`
}

// ConfigError reports an unusable configuration.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("workspace.root", workspace.DefaultRoot)
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.stop_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	d := deployment.DefaultDescriptorOptions()
	v.SetDefault("instance.prefix", d.Prefix)
	v.SetDefault("instance.service", d.ServiceName)
	v.SetDefault("instance.timezone", domain.DefaultTimezone)
	v.SetDefault("instance.max_backup_mb", domain.DefaultMaxBackupMB)
	v.SetDefault("instance.data_dir", d.ContainerDataDir)
	v.SetDefault("instance.db_file", d.DBFile)
	v.SetDefault("instance.backup_src", d.BackupSrc)

	v.SetDefault("app.source_dir", "")
	v.SetDefault("app.entrypoint", workspace.DefaultEntrypoint)
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.dsn", "") // <root>/.journal.db
	v.SetDefault("security.require_root", true)
	v.SetDefault("logs.tail", 100)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to defaults; a broken one is fatal.
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, &ConfigError{Err: fmt.Errorf("failed to parse config file: %w", err)}
			}
		}
	}

	v.SetEnvPrefix("BOTCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("failed to unmarshal config: %w", err)}
	}

	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside an operation.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Workspace.Root) == "" {
		return &ConfigError{Key: "workspace.root", Err: errors.New("must not be empty")}
	}
	if !domain.IsCanonical(c.Instance.Prefix) {
		return &ConfigError{Key: "instance.prefix", Err: fmt.Errorf("%q is not a valid image name", c.Instance.Prefix)}
	}
	if !domain.IsCanonical(c.Instance.Service) {
		return &ConfigError{Key: "instance.service", Err: fmt.Errorf("%q is not a valid service name", c.Instance.Service)}
	}
	if !filepath.IsAbs(c.Instance.DataDir) {
		return &ConfigError{Key: "instance.data_dir", Err: fmt.Errorf("%q must be an absolute path", c.Instance.DataDir)}
	}
	if c.Instance.DBFile == "" || strings.ContainsRune(c.Instance.DBFile, '/') {
		return &ConfigError{Key: "instance.db_file", Err: fmt.Errorf("%q must be a plain file name", c.Instance.DBFile)}
	}
	if _, err := time.LoadLocation(c.Instance.Timezone); err != nil || c.Instance.Timezone == "" {
		return &ConfigError{Key: "instance.timezone", Err: fmt.Errorf("unknown timezone %q", c.Instance.Timezone)}
	}
	if c.Instance.MaxBackupMB <= 0 {
		return &ConfigError{Key: "instance.max_backup_mb", Err: fmt.Errorf("must be positive, got %d", c.Instance.MaxBackupMB)}
	}
	if c.App.Entrypoint == "" || strings.ContainsRune(c.App.Entrypoint, '/') {
		return &ConfigError{Key: "app.entrypoint", Err: fmt.Errorf("%q must be a plain file name", c.App.Entrypoint)}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return &ConfigError{Key: "log.format", Err: fmt.Errorf("unknown format %q", c.Log.Format)}
	}
	if c.Logs.Tail < -1 {
		return &ConfigError{Key: "logs.tail", Err: fmt.Errorf("must be -1 (all) or more, got %d", c.Logs.Tail)}
	}
	return nil
}

// JournalDSN returns the journal database path.
func (c *Config) JournalDSN() string {
	if c.Journal.DSN != "" {
		return c.Journal.DSN
	}
	return filepath.Join(c.Workspace.Root, ".journal.db")
}

// ManagerConfig returns the lifecycle settings derived from c.
func (c *Config) ManagerConfig() engine.Config {
	return engine.Config{
		Descriptor: deployment.DescriptorOptions{
			Prefix:           c.Instance.Prefix,
			ServiceName:      c.Instance.Service,
			ContainerDataDir: c.Instance.DataDir,
			DBFile:           c.Instance.DBFile,
			BackupSrc:        c.Instance.BackupSrc,
		},
		Defaults: domain.InstallInputs{
			Timezone:    c.Instance.Timezone,
			MaxBackupMB: c.Instance.MaxBackupMB,
		},
		SourceDir:  c.App.SourceDir,
		Entrypoint: c.App.Entrypoint,
	}
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
// Logs go to w (stderr) so command output stays clean.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
