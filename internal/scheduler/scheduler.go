// Package scheduler drives the mover script on a cron cadence through the
// same execution path as manual runs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Manager owns the cron engine and at most one scheduled job.
type Manager struct {
	settings SettingsSource
	runner   Runner
	logger   *slog.Logger
	loc      *time.Location

	ctx context.Context

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
	entryID cron.EntryID // zero when no job is installed
	expr    string
}

// New creates a stopped Manager. The engine's timezone comes from TZ and
// falls back to UTC. ctx bounds every scheduled run.
func New(ctx context.Context, settings SettingsSource, run Runner, logger *slog.Logger) (*Manager, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings source cannot be nil")
	}
	if run == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	loc := Location(logger)

	return &Manager{
		settings: settings,
		runner:   run,
		logger:   logger,
		loc:      loc,
		ctx:      ctx,
	}, nil
}

// Location returns the timezone the engine schedules in: TZ, or UTC when TZ
// is empty or unknown.
func Location(logger *slog.Logger) *time.Location {
	if logger == nil {
		logger = slog.Default()
	}
	return resolveLocation(os.Getenv("TZ"), logger)
}

func resolveLocation(name string, logger *slog.Logger) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn("unknown TZ, scheduling in UTC", slog.String("tz", name), slog.String("error", err.Error()))
		return time.UTC
	}
	return loc
}

// Start starts the engine and installs the job from the current settings.
// Calling Start on a started Manager does nothing.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}

	cronLogger := &cronSlogAdapter{logger: m.logger}
	m.cron = cron.New(
		cron.WithLocation(m.loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
	)
	m.cron.Start()
	m.started = true
	m.mu.Unlock()

	m.logger.Info("scheduler started", slog.String("timezone", m.Timezone()))
	m.UpdateSchedule()
	return nil
}

// Stop halts the engine and waits for an in-flight scheduled run to return.
// Cancel the ctx given to New to cut that run short. Calling Stop on a
// stopped Manager does nothing.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	c := m.cron
	m.started = false
	m.entryID = 0
	m.expr = ""
	m.cron = nil
	m.mu.Unlock()

	<-c.Stop().Done()
	m.logger.Info("scheduler stopped")
}

// UpdateSchedule replaces the job with one built from the current settings.
// The old job is always removed. A new one is installed only when the
// schedule is enabled and its expression parses; otherwise the problem is
// logged and no job remains. It does nothing before Start.
func (m *Manager) UpdateSchedule() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}

	if m.entryID != 0 {
		m.cron.Remove(m.entryID)
		m.entryID = 0
		m.expr = ""
	}

	settings, err := m.settings.Load()
	if err != nil {
		m.logger.Error("schedule not installed: load settings failed", slog.String("error", err.Error()))
		return
	}
	if !settings.ScheduleEnabled {
		m.logger.Info("schedule disabled")
		return
	}

	schedule, err := ParseSchedule(settings.ScheduleCron)
	if err != nil {
		m.logger.Error("schedule not installed",
			slog.String("cron", settings.ScheduleCron),
			slog.String("error", err.Error()))
		return
	}

	job := &moverJob{ctx: m.ctx, settings: m.settings, runner: m.runner, logger: m.logger}
	m.entryID = m.cron.Schedule(schedule, job)
	m.expr = strings.TrimSpace(settings.ScheduleCron)

	m.logger.Info("schedule installed",
		slog.String("job_id", JobID),
		slog.String("cron", m.expr),
		slog.Time("next_run", schedule.Next(time.Now().In(m.loc))))
}

// NextRunTime returns the next fire time of the job, or nil when none is
// installed.
func (m *Manager) NextRunTime() *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started || m.entryID == 0 {
		return nil
	}
	entry := m.cron.Entry(m.entryID)
	if !entry.Valid() {
		return nil
	}
	next := entry.Next
	if next.IsZero() {
		// The engine fills Next asynchronously after Schedule.
		next = entry.Schedule.Next(time.Now().In(m.loc))
	}
	return &next
}

// IsEnabled reports whether a job is installed.
func (m *Manager) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && m.entryID != 0
}

// Expression returns the installed cron expression, or "" when none is.
func (m *Manager) Expression() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expr
}

// Timezone returns the IANA name the engine schedules in.
func (m *Manager) Timezone() string {
	return m.loc.String()
}

// cronSlogAdapter adapts slog.Logger to cron.Logger interface.
type cronSlogAdapter struct {
	logger *slog.Logger
}

func (a *cronSlogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a *cronSlogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	attrs := make([]any, 0, len(keysAndValues)+1)
	attrs = append(attrs, slog.String("error", err.Error()))
	attrs = append(attrs, keysAndValues...)
	a.logger.Error(msg, attrs...)
}
