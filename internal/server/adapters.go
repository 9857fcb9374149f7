package server

import (
	"encoding/json"
	"fmt"

	"github.com/caevv/smartmover/internal/config"
)

// maskedKey stands in for a stored API key in responses. Sending it back
// leaves the stored key unchanged.
const maskedKey = "********"

// newSettingsView converts settings for display.
func newSettingsView(s config.Settings) SettingsView {
	v := SettingsView{
		JellyfinURL:        s.JellyfinURL,
		JellyfinAPIKeySet:  s.JellyfinAPIKey != "",
		JellyfinUserIDs:    s.JellyfinUserIDs,
		CacheThreshold:     s.CacheThreshold,
		CacheDrive:         s.CacheDrive,
		ArrayPath:          s.ArrayPath,
		MoviesPool:         s.MoviesPool,
		TVPool:             s.TVPool,
		JellyfinPathPrefix: s.JellyfinPathPrefix,
		LocalPathPrefix:    s.LocalPathPrefix,
		DryRun:             s.DryRun,
		Debug:              s.Debug,
		LogLevel:           s.LogLevel,
		ScheduleEnabled:    s.ScheduleEnabled,
		ScheduleCron:       s.ScheduleCron,
		RunTimeoutSec:      s.RunTimeoutSec,
	}
	if v.JellyfinAPIKeySet {
		v.JellyfinAPIKey = maskedKey
	}
	return v
}

// settingsPatch is a partial settings update. Only keys present in the
// request body are applied.
type settingsPatch struct {
	raw json.RawMessage
}

// parseSettingsPatch checks that body decodes onto Settings.
func parseSettingsPatch(body []byte) (settingsPatch, error) {
	var probe config.Settings
	if err := json.Unmarshal(body, &probe); err != nil {
		return settingsPatch{}, fmt.Errorf("invalid settings body: %w", err)
	}
	return settingsPatch{raw: body}, nil
}

// apply overlays the patch onto s. An empty or masked API key keeps the
// stored key.
func (p settingsPatch) apply(s *config.Settings) {
	key := s.JellyfinAPIKey
	// parseSettingsPatch already proved the body decodes.
	_ = json.Unmarshal(p.raw, s)
	if s.JellyfinAPIKey == "" || s.JellyfinAPIKey == maskedKey {
		s.JellyfinAPIKey = key
	}
}
