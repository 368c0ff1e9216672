// Package config loads audiolift configuration from a viper-managed
// config file with sensible defaults for every setting. The download
// tuning knobs (concurrency ceiling, retry budget, pacing) default to the
// engine's canonical values.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/audiolift/audiolift/internal/snapshot"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Download DownloadConfig `mapstructure:"download"`
	Spool    SpoolConfig    `mapstructure:"spool"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig holds cloud-projects database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DownloadConfig holds snapshot engine tuning.
type DownloadConfig struct {
	MaxConcurrent  int `mapstructure:"max_concurrent"`
	MaxRetries     int `mapstructure:"max_retries"`
	PacingMillis   int `mapstructure:"pacing_ms"`
	TimeoutSeconds int `mapstructure:"timeout_s"`
}

// SpoolConfig holds pull daemon configuration.
type SpoolConfig struct {
	Dir            string `mapstructure:"dir"`
	ProjectsDir    string `mapstructure:"projects_dir"`
	DebounceMillis int    `mapstructure:"debounce_ms"`
}

// LoggingConfig holds log file configuration. An empty File logs to
// stderr; otherwise logs rotate via lumberjack.
type LoggingConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Default returns the default configuration rooted under the user's home
// directory.
func Default() *Config {
	base := baseDir()
	engine := snapshot.DefaultConfig()
	return &Config{
		Database: DatabaseConfig{
			Path: filepath.Join(base, "projects.db"),
		},
		Download: DownloadConfig{
			MaxConcurrent:  engine.MaxConcurrent,
			MaxRetries:     engine.MaxRetries,
			PacingMillis:   int(engine.PacingDelay / time.Millisecond),
			TimeoutSeconds: 60,
		},
		Spool: SpoolConfig{
			Dir:            filepath.Join(base, "spool"),
			ProjectsDir:    filepath.Join(base, "projects"),
			DebounceMillis: 200,
		},
		Logging: LoggingConfig{
			File:       "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// baseDir returns ~/.audiolift, falling back to the working directory
// when the home directory is unknown.
func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".audiolift"
	}
	return filepath.Join(home, ".audiolift")
}

// Load reads configuration from path. An empty path searches for
// audiolift.{yaml,toml,json} in ~/.audiolift and the working directory; a
// missing file is not an error, the defaults apply.
func Load(path string) (*Config, error) {
	def := Default()

	v := viper.New()
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("download.max_concurrent", def.Download.MaxConcurrent)
	v.SetDefault("download.max_retries", def.Download.MaxRetries)
	v.SetDefault("download.pacing_ms", def.Download.PacingMillis)
	v.SetDefault("download.timeout_s", def.Download.TimeoutSeconds)
	v.SetDefault("spool.dir", def.Spool.Dir)
	v.SetDefault("spool.projects_dir", def.Spool.ProjectsDir)
	v.SetDefault("spool.debounce_ms", def.Spool.DebounceMillis)
	v.SetDefault("logging.file", def.Logging.File)
	v.SetDefault("logging.max_size_mb", def.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", def.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", def.Logging.MaxAgeDays)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("audiolift")
		v.AddConfigPath(baseDir())
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// EngineConfig converts the download settings into a snapshot.Config.
func (c *Config) EngineConfig(logger *log.Logger) *snapshot.Config {
	return &snapshot.Config{
		MaxConcurrent: c.Download.MaxConcurrent,
		MaxRetries:    c.Download.MaxRetries,
		PacingDelay:   time.Duration(c.Download.PacingMillis) * time.Millisecond,
		Logger:        logger,
	}
}

// Timeout returns the per-request transport timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

// LogWriter returns the destination for log output: a rotating file when
// one is configured, stderr otherwise.
func (c *Config) LogWriter() io.Writer {
	if c.Logging.File == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   c.Logging.File,
		MaxSize:    c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAgeDays,
	}
}
