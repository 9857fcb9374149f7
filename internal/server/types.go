package server

import "time"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// SuccessResponse acknowledges a mutation.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// RunRequest is the optional body of POST /api/run.
type RunRequest struct {
	DryRun *bool `json:"dry_run"`
}

// RunResponse reports whether a manual run was started.
type RunResponse struct {
	Started bool   `json:"started"`
	DryRun  bool   `json:"dry_run"`
	Message string `json:"message,omitempty"`
}

// ScheduleResponse describes the scheduled job.
type ScheduleResponse struct {
	Enabled  bool       `json:"enabled"`
	Cron     string     `json:"cron,omitempty"`
	Timezone string     `json:"timezone"`
	NextRun  *time.Time `json:"next_run"`
}

// LogsResponse carries a slice of the run log.
type LogsResponse struct {
	Content string `json:"content"`
	Lines   int    `json:"lines"`
}

// SettingsView is the settings as shown to API clients, with the API key masked.
type SettingsView struct {
	JellyfinURL        string `json:"jellyfin_url"`
	JellyfinAPIKey     string `json:"jellyfin_api_key"`
	JellyfinAPIKeySet  bool   `json:"jellyfin_api_key_set"`
	JellyfinUserIDs    string `json:"jellyfin_user_ids"`
	CacheThreshold     int    `json:"cache_threshold"`
	CacheDrive         string `json:"cache_drive"`
	ArrayPath          string `json:"array_path"`
	MoviesPool         string `json:"movies_pool"`
	TVPool             string `json:"tv_pool"`
	JellyfinPathPrefix string `json:"jellyfin_path_prefix"`
	LocalPathPrefix    string `json:"local_path_prefix"`
	DryRun             bool   `json:"dry_run"`
	Debug              bool   `json:"debug"`
	LogLevel           string `json:"log_level"`
	ScheduleEnabled    bool   `json:"schedule_enabled"`
	ScheduleCron       string `json:"schedule_cron"`
	RunTimeoutSec      int    `json:"run_timeout_sec"`
}

// SettingsUpdateResponse is returned by PUT /api/settings.
type SettingsUpdateResponse struct {
	Success  bool             `json:"success"`
	Settings SettingsView     `json:"settings"`
	Schedule ScheduleResponse `json:"schedule"`
}
