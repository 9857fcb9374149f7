package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantError bool
		validate  func(*testing.T, Settings)
	}{
		{
			name: "valid settings",
			yaml: `
jellyfin_url: "https://jf.example.com/"
jellyfin_api_key: "abc"
cache_threshold: 80
dry_run: false
log_level: "debug"
schedule_enabled: true
schedule_cron: "30 2 * * *"
`,
			validate: func(t *testing.T, s Settings) {
				assert.Equal(t, "https://jf.example.com", s.JellyfinURL, "trailing slash trimmed")
				assert.Equal(t, 80, s.CacheThreshold)
				assert.False(t, s.DryRun)
				assert.Equal(t, "DEBUG", s.LogLevel)
				assert.True(t, s.ScheduleEnabled)
				assert.Equal(t, "30 2 * * *", s.ScheduleCron)
			},
		},
		{
			name: "omitted keys keep defaults",
			yaml: `
schedule_enabled: true
`,
			validate: func(t *testing.T, s Settings) {
				def := DefaultSettings()
				assert.Equal(t, def.CacheThreshold, s.CacheThreshold)
				assert.Equal(t, def.CacheDrive, s.CacheDrive)
				assert.True(t, s.DryRun)
				assert.Equal(t, "0 */6 * * *", s.ScheduleCron)
			},
		},
		{
			name:      "threshold out of range",
			yaml:      "cache_threshold: 100\n",
			wantError: true,
		},
		{
			name:      "invalid log level",
			yaml:      "log_level: TRACE\n",
			wantError: true,
		},
		{
			name:      "invalid url scheme",
			yaml:      "jellyfin_url: ftp://host\n",
			wantError: true,
		},
		{
			name:      "negative timeout",
			yaml:      "run_timeout_sec: -1\n",
			wantError: true,
		},
		{
			name:      "invalid yaml",
			yaml:      "dry_run: [unterminated\n",
			wantError: true,
		},
		{
			name: "invalid cron is accepted",
			yaml: "schedule_cron: not a cron\n",
			validate: func(t *testing.T, s Settings) {
				assert.Equal(t, "not a cron", s.ScheduleCron)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "settings.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			s, err := LoadSettings(path)
			if tt.wantError {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidSettings)
				return
			}
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, s)
			}
		})
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestManager_SaveAndLoad(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	_, err = os.Stat(m.LogsDir())
	require.NoError(t, err, "logs directory should be created")

	s := DefaultSettings()
	s.DryRun = false
	s.ScheduleEnabled = true
	s.JellyfinAPIKey = "secret"
	require.NoError(t, m.Save(s))

	got, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, s, got)

	info, err := os.Stat(m.SettingsPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = os.Stat(m.SettingsPath() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")
}

func TestManager_SaveRejectsInvalid(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	s := DefaultSettings()
	s.CacheThreshold = 0
	require.Error(t, m.Save(s))

	_, err = os.Stat(m.SettingsPath())
	assert.True(t, os.IsNotExist(err))
}

func TestManager_Update(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	updated, err := m.Update(func(s *Settings) {
		s.DryRun = false
		s.ScheduleCron = "0 3 * * *"
	})
	require.NoError(t, err)
	assert.False(t, updated.DryRun)

	got, err := m.Load()
	require.NoError(t, err)
	assert.False(t, got.DryRun)
	assert.Equal(t, "0 3 * * *", got.ScheduleCron)
	assert.Equal(t, DefaultSettings().CacheDrive, got.CacheDrive)
}

func TestManager_InvalidFileFallsBackToDefaults(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "invalid yaml", yaml: "dry_run: [unterminated\n"},
		{name: "invalid data", yaml: "cache_threshold: 150\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(t.TempDir())
			require.NoError(t, err)
			m.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
			require.NoError(t, os.WriteFile(m.SettingsPath(), []byte(tt.yaml), 0o600))

			got, err := m.Load()
			require.NoError(t, err)
			assert.Equal(t, DefaultSettings(), got)

			_, err = LoadSettings(m.SettingsPath())
			assert.ErrorIs(t, err, ErrInvalidSettings, "the strict loader still reports the file")
		})
	}
}

func TestManager_UpdateRepairsInvalidFile(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	m.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, os.WriteFile(m.SettingsPath(), []byte("cache_threshold: 150\n"), 0o600))

	updated, err := m.Update(func(s *Settings) { s.CacheThreshold = 80 })
	require.NoError(t, err)
	assert.Equal(t, 80, updated.CacheThreshold)

	got, err := LoadSettings(m.SettingsPath())
	require.NoError(t, err)
	assert.Equal(t, 80, got.CacheThreshold)
}

func TestManager_ReadLogsLongLine(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	long := strings.Repeat("x", 2*1024*1024)
	content := "[INFO] before\n[INFO] " + long + "\n[ERROR] after"
	require.NoError(t, os.WriteFile(m.LogFile(), []byte(content), 0o644))

	got, err := m.ReadLogs(0, "")
	require.NoError(t, err)
	assert.Equal(t, content+"\n", got)

	got, err = m.ReadLogs(1, "INFO")
	require.NoError(t, err)
	assert.Equal(t, "[INFO] "+long+"\n", got)
}

func TestManager_Paths(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "settings.yaml"), m.SettingsPath())
	assert.Equal(t, filepath.Join(dir, "logs", "smart_mover.log"), m.LogFile())
	assert.Equal(t, filepath.Join(dir, "run_history.db"), m.HistoryPath("bbolt"))
	assert.Equal(t, filepath.Join(dir, "run_history.json"), m.HistoryPath("json"))
	assert.Equal(t, filepath.Join(dir, "run_history.sqlite"), m.HistoryPath("sqlite"))

	_, err = NewManager("")
	assert.Error(t, err)
}

func TestSettings_Env(t *testing.T) {
	s := DefaultSettings()
	s.JellyfinAPIKey = "key"
	s.JellyfinUserIDs = "u1,u2"
	s.Debug = true

	env := s.Env()
	assert.Equal(t, "key", env["JELLYFIN_API_KEY"])
	assert.Equal(t, "u1,u2", env["USER_IDS"])
	assert.Equal(t, "90", env["CACHE_THRESHOLD"])
	assert.Equal(t, "true", env["DRY_RUN"])
	assert.Equal(t, "true", env["DEBUG"])
	assert.Len(t, env, 12)
}

func TestManager_ReadLogs(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	out, err := m.ReadLogs(0, "")
	require.NoError(t, err)
	assert.Empty(t, out, "missing log reads as empty")

	content := "[t1] [INFO] one\n[t2] [ERROR] two\nplain line\n[t3] [INFO] three\n"
	require.NoError(t, os.WriteFile(m.LogFile(), []byte(content), 0o644))

	tests := []struct {
		name  string
		lines int
		level string
		want  string
	}{
		{name: "all", want: content},
		{name: "ALL level", level: "ALL", want: content},
		{name: "tail", lines: 2, want: "plain line\n[t3] [INFO] three\n"},
		{name: "level filter", level: "info", want: "[t1] [INFO] one\n[t3] [INFO] three\n"},
		{name: "level and tail", level: "INFO", lines: 1, want: "[t3] [INFO] three\n"},
		{name: "no match", level: "DEBUG", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.ReadLogs(tt.lines, tt.level)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	require.NoError(t, m.ClearLogs())
	require.NoError(t, m.ClearLogs(), "clearing twice is fine")
	_, err = os.Stat(m.LogFile())
	assert.True(t, os.IsNotExist(err))
}

func TestWatcher_NotifiesOnSave(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	var calls atomic.Int32
	w, err := NewWatcher(m, func() { calls.Add(1) }, nil)
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond
	w.Start()
	defer w.Close()

	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), "other.txt"), []byte("x"), 0o644))

	s := DefaultSettings()
	s.ScheduleEnabled = true
	require.NoError(t, m.Save(s))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}
