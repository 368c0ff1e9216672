package config

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Database.Path == "" {
		t.Error("Database.Path is empty")
	}
	if cfg.Download.MaxConcurrent != 6 {
		t.Errorf("Download.MaxConcurrent = %d, want 6", cfg.Download.MaxConcurrent)
	}
	if cfg.Download.MaxRetries != 3 {
		t.Errorf("Download.MaxRetries = %d, want 3", cfg.Download.MaxRetries)
	}
	if cfg.Download.PacingMillis != 50 {
		t.Errorf("Download.PacingMillis = %d, want 50", cfg.Download.PacingMillis)
	}
	if cfg.Spool.Dir == "" || cfg.Spool.ProjectsDir == "" {
		t.Error("spool directories are empty")
	}
	if cfg.Logging.File != "" {
		t.Errorf("Logging.File = %q, want stderr default", cfg.Logging.File)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audiolift.yaml")

	content := `
database:
  path: /var/lib/audiolift/projects.db
download:
  max_concurrent: 2
  pacing_ms: 0
spool:
  debounce_ms: 500
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Path != "/var/lib/audiolift/projects.db" {
		t.Errorf("Database.Path = %q, want the configured path", cfg.Database.Path)
	}
	if cfg.Download.MaxConcurrent != 2 {
		t.Errorf("Download.MaxConcurrent = %d, want 2", cfg.Download.MaxConcurrent)
	}
	if cfg.Download.PacingMillis != 0 {
		t.Errorf("Download.PacingMillis = %d, want 0", cfg.Download.PacingMillis)
	}
	if cfg.Spool.DebounceMillis != 500 {
		t.Errorf("Spool.DebounceMillis = %d, want 500", cfg.Spool.DebounceMillis)
	}

	// Unspecified settings keep their defaults.
	if cfg.Download.MaxRetries != 3 {
		t.Errorf("Download.MaxRetries = %d, want the default 3", cfg.Download.MaxRetries)
	}
	if cfg.Download.TimeoutSeconds != 60 {
		t.Errorf("Download.TimeoutSeconds = %d, want the default 60", cfg.Download.TimeoutSeconds)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load accepted a missing explicit config file")
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := Default()
	cfg.Download.MaxConcurrent = 2
	cfg.Download.MaxRetries = 1
	cfg.Download.PacingMillis = 10

	logger := log.New(io.Discard, "", 0)
	ec := cfg.EngineConfig(logger)

	if ec.MaxConcurrent != 2 || ec.MaxRetries != 1 {
		t.Errorf("EngineConfig = %+v, want the configured limits", ec)
	}
	if ec.PacingDelay != 10*time.Millisecond {
		t.Errorf("PacingDelay = %v, want 10ms", ec.PacingDelay)
	}
	if ec.Logger != logger {
		t.Error("EngineConfig dropped the logger")
	}
}

func TestTimeout(t *testing.T) {
	cfg := Default()
	cfg.Download.TimeoutSeconds = 30
	if got := cfg.Timeout(); got != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", got)
	}
}

func TestLogWriter(t *testing.T) {
	cfg := Default()
	if cfg.LogWriter() != os.Stderr {
		t.Error("empty log file does not write to stderr")
	}

	cfg.Logging.File = filepath.Join(t.TempDir(), "audiolift.log")
	w := cfg.LogWriter()
	lj, ok := w.(*lumberjack.Logger)
	if !ok {
		t.Fatalf("LogWriter = %T, want a rotating file logger", w)
	}
	if lj.Filename != cfg.Logging.File {
		t.Errorf("Filename = %q, want %q", lj.Filename, cfg.Logging.File)
	}
}
