package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caevv/smartmover/internal/config"
	"github.com/caevv/smartmover/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticSettings struct {
	s   config.Settings
	err error
}

func (f staticSettings) Load() (config.Settings, error) { return f.s, f.err }

type memHistory struct {
	mu      sync.Mutex
	records []store.Record
	err     error
}

func (h *memHistory) Append(rec store.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.records = append(h.records, rec)
	return nil
}

func (h *memHistory) all() []store.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]store.Record(nil), h.records...)
}

type fixture struct {
	coord   *Coordinator
	history *memHistory
	logPath string
	script  string
}

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "smart_mover.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newFixture(t *testing.T, body string, mutate ...func(*config.Settings)) *fixture {
	t.Helper()
	dir := t.TempDir()

	settings := config.DefaultSettings()
	for _, fn := range mutate {
		fn(&settings)
	}

	f := &fixture{
		history: &memHistory{},
		logPath: filepath.Join(dir, "logs", "smart_mover.log"),
		script:  writeScript(t, dir, body),
	}

	coord, err := NewCoordinator(NewState(), staticSettings{s: settings}, f.history, Options{
		ScriptPath: f.script,
		Shell:      "sh",
		LogPath:    f.logPath,
		LockPath:   filepath.Join(dir, "smartmover.lock"),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	f.coord = coord
	return f
}

func (f *fixture) readLog(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.logPath)
	require.NoError(t, err)
	return string(data)
}

func boolPtr(b bool) *bool { return &b }

func TestNewCoordinator_Validation(t *testing.T) {
	tests := []struct {
		name     string
		state    *State
		settings SettingsSource
		opts     Options
		wantErr  string
	}{
		{name: "nil state", settings: staticSettings{}, opts: Options{ScriptPath: "x", LogPath: "y"}, wantErr: "state cannot be nil"},
		{name: "nil settings", state: NewState(), opts: Options{ScriptPath: "x", LogPath: "y"}, wantErr: "settings source cannot be nil"},
		{name: "empty script", state: NewState(), settings: staticSettings{}, opts: Options{LogPath: "y"}, wantErr: "script path cannot be empty"},
		{name: "empty log", state: NewState(), settings: staticSettings{}, opts: Options{ScriptPath: "x"}, wantErr: "log path cannot be empty"},
		{name: "unterminated shell quote", state: NewState(), settings: staticSettings{}, opts: Options{ScriptPath: "x", LogPath: "y", Shell: `bash "-e`}, wantErr: "invalid shell"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCoordinator(tt.state, tt.settings, nil, tt.opts, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_ShellArguments(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "echo before\nfalse\necho after")

	coord, err := NewCoordinator(NewState(), staticSettings{s: config.DefaultSettings()}, nil, Options{
		ScriptPath: script,
		Shell:      "sh -e",
		LogPath:    filepath.Join(dir, "run.log"),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	res := coord.Run(context.Background(), RunOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ReturnCode)
	assert.Equal(t, "before\n", res.Output)
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t, `echo hello`)

	res := f.coord.Run(context.Background(), RunOptions{})

	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ReturnCode)
	assert.Equal(t, "hello\n", res.Output)
	assert.Empty(t, res.Error)
	assert.NotEmpty(t, res.RunID)
	assert.True(t, res.DryRun, "default settings are dry run")
	assert.GreaterOrEqual(t, res.DurationSeconds(), 0.0)

	st := f.coord.Status()
	assert.False(t, st.IsRunning)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, res.RunID, st.LastRun.RunID)

	log := f.readLog(t)
	assert.Contains(t, log, "Run (DRY RUN) - RUNNING")
	assert.Contains(t, log, "hello\n")
	assert.Contains(t, log, "Completed: SUCCESS in ")

	recs := f.history.all()
	require.Len(t, recs, 1)
	assert.Equal(t, res.RunID, recs[0].RunID)
	assert.Equal(t, "hello", recs[0].Log)
	assert.True(t, recs[0].Success)
}

func TestRun_ScriptNotFound(t *testing.T) {
	f := newFixture(t, `echo unused`)
	require.NoError(t, os.Remove(f.script))

	res := f.coord.Run(context.Background(), RunOptions{})

	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ReturnCode)
	assert.Contains(t, res.Error, "script not found: "+f.script)
	assert.NotContains(t, res.Error, "Unexpected error")
	assert.False(t, f.coord.Status().IsRunning)

	log := f.readLog(t)
	assert.Contains(t, log, "ERROR: script not found")
	assert.Contains(t, log, "Completed: FAILED")
	assert.Len(t, f.history.all(), 1)
}

func TestRun_SettingsError(t *testing.T) {
	dir := t.TempDir()
	coord, err := NewCoordinator(NewState(), staticSettings{err: errors.New("boom")}, nil, Options{
		ScriptPath: writeScript(t, dir, "echo hi"),
		Shell:      "sh",
		LogPath:    filepath.Join(dir, "run.log"),
	}, nil)
	require.NoError(t, err)

	res := coord.Run(context.Background(), RunOptions{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Unexpected error: load settings: boom")
	assert.False(t, coord.Status().IsRunning)
}

func TestRun_StatusLinesAreFiltered(t *testing.T) {
	f := newFixture(t, `
echo "STATUS: scanning"
echo "Moving: a.mkv"
echo "STATUS:   done  "
echo "Moved: b.mkv"
echo "[DRY RUN] Would move: c.mkv"
echo "STATUS: Moving: not counted"`)

	var mu sync.Mutex
	var seen []string
	res := f.coord.Run(context.Background(), RunOptions{OnOutput: func(line string) {
		mu.Lock()
		seen = append(seen, line)
		mu.Unlock()
	}})

	require.True(t, res.Success)
	assert.Equal(t, 3, res.FilesMoved)
	assert.Len(t, seen, 6)
	assert.Contains(t, seen, "STATUS: scanning")

	log := f.readLog(t)
	assert.NotContains(t, log, "STATUS:")
	assert.Contains(t, log, "Moving: a.mkv")

	recs := f.history.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "Moving: a.mkv\nMoved: b.mkv\n[DRY RUN] Would move: c.mkv", recs[0].Log)
	assert.Equal(t, 3, recs[0].FilesMoved)
}

func TestRun_LiveStatusDuringRun(t *testing.T) {
	dir := t.TempDir()
	gate := filepath.Join(dir, "release")
	f := newFixture(t, `
echo "STATUS:  copying "
echo "working"
while [ ! -f "`+gate+`" ]; do sleep 0.05; done`)

	done := make(chan RunResult, 1)
	go func() { done <- f.coord.Run(context.Background(), RunOptions{}) }()

	require.Eventually(t, func() bool {
		return f.coord.Status().CurrentStatus == "copying"
	}, 5*time.Second, 20*time.Millisecond)

	st := f.coord.Status()
	assert.True(t, st.IsRunning)
	assert.Contains(t, st.CurrentOutput, "working\n")
	assert.Contains(t, st.CurrentOutput, "STATUS:  copying \n")

	require.NoError(t, os.WriteFile(gate, nil, 0o644))
	res := <-done
	assert.True(t, res.Success)

	st = f.coord.Status()
	assert.False(t, st.IsRunning)
	assert.Empty(t, st.CurrentStatus)
	assert.Empty(t, st.CurrentOutput)
}

func TestRun_AlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	gate := filepath.Join(dir, "release")
	f := newFixture(t, `while [ ! -f "`+gate+`" ]; do sleep 0.05; done`)

	done := make(chan RunResult, 1)
	go func() { done <- f.coord.Run(context.Background(), RunOptions{}) }()
	require.Eventually(t, f.coord.State().Running, 5*time.Second, 10*time.Millisecond)

	rejected := f.coord.Run(context.Background(), RunOptions{DryRun: boolPtr(false)})
	assert.False(t, rejected.Success)
	assert.Equal(t, ErrAlreadyRunning.Error(), rejected.Error)
	assert.Equal(t, -1, rejected.ReturnCode)
	assert.False(t, rejected.DryRun)
	assert.True(t, f.coord.Status().IsRunning)

	require.NoError(t, os.WriteFile(gate, nil, 0o644))
	<-done
}

func TestRun_RejectedLeavesLastRunUntouched(t *testing.T) {
	dir := t.TempDir()
	gate := filepath.Join(dir, "release")
	f := newFixture(t, `while [ ! -f "`+gate+`" ]; do sleep 0.05; done`)

	done := make(chan RunResult, 1)
	go func() { done <- f.coord.Run(context.Background(), RunOptions{}) }()
	require.Eventually(t, f.coord.State().Running, 5*time.Second, 10*time.Millisecond)

	f.coord.Run(context.Background(), RunOptions{})
	_, ok := f.coord.State().LastRun()
	assert.False(t, ok)
	assert.Empty(t, f.history.all())

	require.NoError(t, os.WriteFile(gate, nil, 0o644))
	res := <-done

	last, ok := f.coord.State().LastRun()
	require.True(t, ok)
	assert.Equal(t, res.RunID, last.RunID)
	assert.Len(t, f.history.all(), 1)
}

func TestRun_ConcurrentCallsAcceptExactlyOne(t *testing.T) {
	f := newFixture(t, `sleep 0.3; echo done`)

	const callers = 8
	results := make(chan RunResult, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results <- f.coord.Run(context.Background(), RunOptions{})
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	accepted := 0
	for r := range results {
		if r.Error == ErrAlreadyRunning.Error() {
			continue
		}
		accepted++
		assert.True(t, r.Success)
	}
	assert.Equal(t, 1, accepted)
	assert.Len(t, f.history.all(), 1)
}

func TestRun_LockHeldByAnotherCoordinator(t *testing.T) {
	dir := t.TempDir()
	gate := filepath.Join(dir, "release")
	script := writeScript(t, dir, `while [ ! -f "`+gate+`" ]; do sleep 0.05; done`)
	opts := Options{
		ScriptPath: script,
		Shell:      "sh",
		LogPath:    filepath.Join(dir, "run.log"),
		LockPath:   filepath.Join(dir, "smartmover.lock"),
	}
	settings := staticSettings{s: config.DefaultSettings()}

	a, err := NewCoordinator(NewState(), settings, nil, opts, nil)
	require.NoError(t, err)
	b, err := NewCoordinator(NewState(), settings, nil, opts, nil)
	require.NoError(t, err)

	done := make(chan RunResult, 1)
	go func() { done <- a.Run(context.Background(), RunOptions{}) }()
	require.Eventually(t, a.State().Running, 5*time.Second, 10*time.Millisecond)
	// Give a time to take the file lock after claiming its state.
	time.Sleep(100 * time.Millisecond)

	res := b.Run(context.Background(), RunOptions{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "already running")
	assert.False(t, b.State().Running())

	require.NoError(t, os.WriteFile(gate, nil, 0o644))
	assert.True(t, (<-done).Success)
}

func TestRun_NonZeroExit(t *testing.T) {
	f := newFixture(t, `echo partial; echo "disk full" >&2; exit 3`)

	res := f.coord.Run(context.Background(), RunOptions{})

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ReturnCode)
	assert.Equal(t, "partial\n", res.Output)
	assert.Equal(t, "disk full\n", res.Error)

	log := f.readLog(t)
	assert.Contains(t, log, "disk full\n")
	assert.NotContains(t, log, "--- STDERR ---")
	assert.Contains(t, log, "Completed: FAILED")
}

func TestRun_StderrBlockOnSuccess(t *testing.T) {
	f := newFixture(t, `echo out; echo "warn" >&2`)

	res := f.coord.Run(context.Background(), RunOptions{})

	require.True(t, res.Success)
	assert.Equal(t, "warn\n", res.Error)
	log := f.readLog(t)
	assert.Contains(t, log, "--- STDERR ---\nwarn\n")
	assert.Less(t, strings.Index(log, "--- STDERR ---"), strings.Index(log, "Completed: SUCCESS"))
}

func TestRun_DryRunOverride(t *testing.T) {
	tests := []struct {
		name     string
		setting  bool
		override *bool
		want     bool
		wantEnv  string
	}{
		{name: "setting dry", setting: true, want: true, wantEnv: "true"},
		{name: "setting live", setting: false, want: false, wantEnv: "false"},
		{name: "override live", setting: true, override: boolPtr(false), want: false, wantEnv: "false"},
		{name: "override dry", setting: false, override: boolPtr(true), want: true, wantEnv: "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, `echo "dry=$DRY_RUN"`, func(s *config.Settings) { s.DryRun = tt.setting })

			res := f.coord.Run(context.Background(), RunOptions{DryRun: tt.override})

			require.True(t, res.Success)
			assert.Equal(t, tt.want, res.DryRun)
			assert.Equal(t, "dry="+tt.wantEnv+"\n", res.Output)
			assert.Equal(t, tt.want, f.history.all()[0].DryRun)
		})
	}
}

func TestRun_EnvironmentFromSettings(t *testing.T) {
	f := newFixture(t, `echo "$CACHE_THRESHOLD $CACHE_DRIVE $USER_IDS"`, func(s *config.Settings) {
		s.CacheThreshold = 75
		s.CacheDrive = "/mnt/fast"
		s.JellyfinUserIDs = "a,b"
	})

	res := f.coord.Run(context.Background(), RunOptions{})

	require.True(t, res.Success)
	assert.Equal(t, "75 /mnt/fast a,b\n", res.Output)
}

func TestRun_Timeout(t *testing.T) {
	f := newFixture(t, `echo started; exec sleep 5`, func(s *config.Settings) { s.RunTimeoutSec = 1 })

	start := time.Now()
	res := f.coord.Run(context.Background(), RunOptions{})

	assert.Less(t, time.Since(start), 4*time.Second)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Unexpected error: script timed out")
	assert.Contains(t, res.Output, "started")
	assert.False(t, f.coord.Status().IsRunning)
}

func TestRun_OutputHandlerPanic(t *testing.T) {
	f := newFixture(t, `i=0; while [ $i -lt 200 ]; do echo "line $i"; i=$((i+1)); done`)

	res := f.coord.Run(context.Background(), RunOptions{OnOutput: func(string) { panic("bad handler") }})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "output handler panic: bad handler")
	assert.False(t, f.coord.Status().IsRunning)
}

func TestRun_LongLines(t *testing.T) {
	f := newFixture(t, `head -c 200000 /dev/zero | tr '\0' 'x'; echo`)

	res := f.coord.Run(context.Background(), RunOptions{})

	require.True(t, res.Success)
	assert.Len(t, strings.TrimSuffix(res.Output, "\n"), 200000)
}

func TestRun_HistoryErrorIsNotFatal(t *testing.T) {
	f := newFixture(t, `echo ok`)
	f.history.err = errors.New("disk gone")

	res := f.coord.Run(context.Background(), RunOptions{})

	assert.True(t, res.Success)
	_, ok := f.coord.State().LastRun()
	assert.True(t, ok)
}

func TestLogEvent(t *testing.T) {
	f := newFixture(t, `echo ok`)

	require.NoError(t, f.coord.LogEvent("info", "Settings saved"))
	require.NoError(t, f.coord.LogEvent("ERROR", "Scheduled run failed"))

	log := f.readLog(t)
	assert.Regexp(t, `\[\d{4}-\d{2}-\d{2}T[^\]]+\] \[INFO\] Settings saved\n`, log)
	assert.Contains(t, log, "[ERROR] Scheduled run failed\n")
}
