// Package config holds the smartmover settings schema and the manager that
// loads, saves and derives runtime values from the settings file.
package config

import (
	"strconv"
)

// Settings represents the persisted smartmover configuration.
// Every field is read fresh from disk on each run and on each scheduler fire.
type Settings struct {
	JellyfinURL        string `yaml:"jellyfin_url" json:"jellyfin_url"`
	JellyfinAPIKey     string `yaml:"jellyfin_api_key" json:"jellyfin_api_key"`
	JellyfinUserIDs    string `yaml:"jellyfin_user_ids" json:"jellyfin_user_ids"`
	CacheThreshold     int    `yaml:"cache_threshold" json:"cache_threshold"` // percent, 1-99
	CacheDrive         string `yaml:"cache_drive" json:"cache_drive"`
	ArrayPath          string `yaml:"array_path" json:"array_path"`
	MoviesPool         string `yaml:"movies_pool" json:"movies_pool"`
	TVPool             string `yaml:"tv_pool" json:"tv_pool"`
	JellyfinPathPrefix string `yaml:"jellyfin_path_prefix" json:"jellyfin_path_prefix"`
	LocalPathPrefix    string `yaml:"local_path_prefix" json:"local_path_prefix"`
	DryRun             bool   `yaml:"dry_run" json:"dry_run"`
	Debug              bool   `yaml:"debug" json:"debug"`
	LogLevel           string `yaml:"log_level" json:"log_level"` // DEBUG, INFO or ERROR
	ScheduleEnabled    bool   `yaml:"schedule_enabled" json:"schedule_enabled"`
	ScheduleCron       string `yaml:"schedule_cron" json:"schedule_cron"`
	RunTimeoutSec      int    `yaml:"run_timeout_sec" json:"run_timeout_sec"` // 0 disables the timeout
}

// DefaultSettings returns the settings used when no settings file exists yet.
func DefaultSettings() Settings {
	return Settings{
		JellyfinURL:        "http://localhost:8096",
		CacheThreshold:     90,
		CacheDrive:         "/mnt/cache",
		ArrayPath:          "/mnt/disk1",
		MoviesPool:         "movies-pool",
		TVPool:             "tv-pool",
		JellyfinPathPrefix: "/media/media",
		LocalPathPrefix:    "/mnt/cache/media",
		DryRun:             true,
		LogLevel:           "INFO",
		ScheduleCron:       "0 */6 * * *",
	}
}

// Env generates the environment variables handed to the mover script.
func (s Settings) Env() map[string]string {
	return map[string]string{
		"JELLYFIN_URL":         s.JellyfinURL,
		"JELLYFIN_API_KEY":     s.JellyfinAPIKey,
		"USER_IDS":             s.JellyfinUserIDs,
		"CACHE_THRESHOLD":      strconv.Itoa(s.CacheThreshold),
		"CACHE_DRIVE":          s.CacheDrive,
		"ARRAY_PATH":           s.ArrayPath,
		"MOVIES_POOL":          s.MoviesPool,
		"TV_POOL":              s.TVPool,
		"JELLYFIN_PATH_PREFIX": s.JellyfinPathPrefix,
		"LOCAL_PATH_PREFIX":    s.LocalPathPrefix,
		"DRY_RUN":              boolEnv(s.DryRun),
		"DEBUG":                boolEnv(s.Debug),
	}
}

func boolEnv(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
