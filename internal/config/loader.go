package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	settingsFileName = "settings.yaml"
	historyFileName  = "run_history"
	logFileName      = "smart_mover.log"
	lockFileName     = "smartmover.lock"
)

// ErrInvalidSettings wraps parse and validation failures of the settings file.
var ErrInvalidSettings = errors.New("invalid settings")

// Manager owns the configuration directory layout:
//
//	<dir>/settings.yaml
//	<dir>/run_history.{db,json}
//	<dir>/smartmover.lock
//	<dir>/logs/smart_mover.log
type Manager struct {
	dir    string
	logger *slog.Logger

	// serializes read-modify-write cycles in Update
	mu sync.Mutex
}

// NewManager creates a Manager rooted at dir, creating the directory tree if needed.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	m := &Manager{dir: dir, logger: slog.Default()}
	if err := os.MkdirAll(m.LogsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directories: %w", err)
	}
	return m, nil
}

// Dir returns the configuration directory.
func (m *Manager) Dir() string { return m.dir }

// SettingsPath returns the path of the settings file.
func (m *Manager) SettingsPath() string { return filepath.Join(m.dir, settingsFileName) }

// LogsDir returns the directory holding run logs.
func (m *Manager) LogsDir() string { return filepath.Join(m.dir, "logs") }

// LogFile returns the path of the append-only run log.
func (m *Manager) LogFile() string { return filepath.Join(m.LogsDir(), logFileName) }

// LockFile returns the path of the cross-process run lock.
func (m *Manager) LockFile() string { return filepath.Join(m.dir, lockFileName) }

// HistoryPath returns the history store path for the given driver.
func (m *Manager) HistoryPath(driver string) string {
	ext := ".db"
	switch strings.ToLower(driver) {
	case "json":
		ext = ".json"
	case "sqlite":
		ext = ".sqlite"
	}
	return filepath.Join(m.dir, historyFileName+ext)
}

// SetLogger replaces the logger used for settings warnings.
func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Load reads the settings file. A missing file yields DefaultSettings, and so
// does a file that fails to parse or validate, so runs and scheduled fires
// keep working until the file is repaired. I/O errors are returned.
func (m *Manager) Load() (Settings, error) {
	s, err := LoadSettings(m.SettingsPath())
	if errors.Is(err, ErrInvalidSettings) {
		m.logger.Warn("settings file is invalid, using defaults",
			slog.String("path", m.SettingsPath()),
			slog.String("error", err.Error()))
		return DefaultSettings(), nil
	}
	return s, err
}

// Save validates and atomically writes settings.
func (m *Manager) Save(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SaveSettings(s, m.SettingsPath())
}

// Update loads the current settings, applies fn and saves the result.
func (m *Manager) Update(fn func(*Settings)) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.Load()
	if err != nil {
		return Settings{}, err
	}
	fn(&s)
	if err := SaveSettings(s, m.SettingsPath()); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSettings loads and validates settings from a YAML file. Parse and
// validation failures wrap ErrInvalidSettings.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	// Start from defaults so omitted keys keep their default values.
	s := DefaultSettings()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("%w: failed to parse YAML: %w", ErrInvalidSettings, err)
	}

	applyDefaults(&s)

	if err := validate(&s); err != nil {
		return Settings{}, fmt.Errorf("%w: settings validation failed: %w", ErrInvalidSettings, err)
	}

	return s, nil
}

// applyDefaults normalizes optional fields.
func applyDefaults(s *Settings) {
	if s.LogLevel == "" {
		s.LogLevel = "INFO"
	}
	s.LogLevel = strings.ToUpper(s.LogLevel)
	s.JellyfinURL = strings.TrimRight(s.JellyfinURL, "/")
	s.ScheduleCron = strings.TrimSpace(s.ScheduleCron)
}

// validate checks settings for errors. The cron expression is validated by the
// scheduler when it is installed, so an invalid expression can still be saved.
func validate(s *Settings) error {
	if s.CacheThreshold < 1 || s.CacheThreshold > 99 {
		return fmt.Errorf("cache_threshold must be between 1 and 99, got %d", s.CacheThreshold)
	}

	switch s.LogLevel {
	case "DEBUG", "INFO", "ERROR":
	default:
		return fmt.Errorf("log_level must be one of [DEBUG INFO ERROR], got %q", s.LogLevel)
	}

	if s.JellyfinURL != "" && !strings.HasPrefix(s.JellyfinURL, "http://") && !strings.HasPrefix(s.JellyfinURL, "https://") {
		return fmt.Errorf("jellyfin_url must start with http:// or https://")
	}

	if s.RunTimeoutSec < 0 {
		return fmt.Errorf("run_timeout_sec must be non-negative")
	}

	return nil
}
