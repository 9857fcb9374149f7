// Package runner executes the mover script under single-flight control,
// streams and classifies its output, and records each run.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/caevv/smartmover/internal/config"
	"github.com/caevv/smartmover/internal/store"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyRunning is reported when a run is already in flight, in this
	// process or in another one holding the run lock.
	ErrAlreadyRunning = errors.New("script is already running")

	// ErrScriptNotFound is reported when the configured script does not exist.
	ErrScriptNotFound = errors.New("script not found")

	// ErrTimeout is reported when run_timeout_sec elapses.
	ErrTimeout = errors.New("script timed out")
)

// waitDelay bounds how long Wait keeps pipes open after the process is
// killed, in case a grandchild still holds them.
const waitDelay = 5 * time.Second

// SettingsSource returns the current settings. It is called on every run.
type SettingsSource interface {
	Load() (config.Settings, error)
}

// HistoryAppender receives one record per completed run.
type HistoryAppender interface {
	Append(rec store.Record) error
}

// Options configures a Coordinator.
type Options struct {
	// ScriptPath is the mover script.
	ScriptPath string
	// Shell runs the script. It may carry arguments ("bash -e") and is
	// split with shell quoting rules. Defaults to "bash".
	Shell string
	// LogPath is the append-only run log.
	LogPath string
	// LockPath, when set, is an advisory file lock held for the duration of
	// a run so two processes sharing a config directory never overlap.
	LockPath string
}

// RunOptions are per-call options for Run.
type RunOptions struct {
	// DryRun overrides the dry_run setting when non-nil.
	DryRun *bool
	// OnOutput receives every raw line, status lines included, before
	// filtering. It is called from both drain goroutines concurrently.
	OnOutput func(line string)
}

// Coordinator runs the mover script at most once at a time.
type Coordinator struct {
	state    *State
	settings SettingsSource
	history  HistoryAppender
	opts     Options
	shell    []string
	lock     *flock.Flock
	logger   *slog.Logger

	// logMu serializes every write to the run log.
	logMu sync.Mutex
}

// NewCoordinator wires a coordinator around a shared state.
func NewCoordinator(state *State, settings SettingsSource, history HistoryAppender, opts Options, logger *slog.Logger) (*Coordinator, error) {
	if state == nil {
		return nil, fmt.Errorf("state cannot be nil")
	}
	if settings == nil {
		return nil, fmt.Errorf("settings source cannot be nil")
	}
	if opts.ScriptPath == "" {
		return nil, fmt.Errorf("script path cannot be empty")
	}
	if opts.LogPath == "" {
		return nil, fmt.Errorf("log path cannot be empty")
	}
	if strings.TrimSpace(opts.Shell) == "" {
		opts.Shell = "bash"
	}
	shell, err := shellquote.Split(opts.Shell)
	if err != nil {
		return nil, fmt.Errorf("invalid shell %q: %w", opts.Shell, err)
	}
	if len(shell) == 0 || shell[0] == "" {
		return nil, fmt.Errorf("invalid shell %q", opts.Shell)
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		state:    state,
		settings: settings,
		history:  history,
		opts:     opts,
		shell:    shell,
		logger:   logger,
	}
	if opts.LockPath != "" {
		c.lock = flock.New(opts.LockPath)
	}
	return c, nil
}

// State returns the shared runner state.
func (c *Coordinator) State() *State { return c.state }

// Status returns a snapshot of the runner state.
func (c *Coordinator) Status() Status { return c.state.Snapshot() }

// LogEvent appends a "[timestamp] [LEVEL] msg" line to the run log.
func (c *Coordinator) LogEvent(level, msg string) error {
	rl, err := openRunLog(c.opts.LogPath, &c.logMu)
	if err != nil {
		return err
	}
	rl.writeLine(fmt.Sprintf("[%s] [%s] %s", time.Now().Format(time.RFC3339), strings.ToUpper(level), msg))
	return rl.close()
}

// Run executes the script and blocks until it exits and both output streams
// are drained. A call made while another run is in flight returns at once
// with a failed result and leaves the state untouched. Failures of any kind
// are reported through the result; Run never panics or returns partially.
//
// ctx cancellation kills the script. Callers pass a context that only ends
// on process shutdown.
func (c *Coordinator) Run(ctx context.Context, opts RunOptions) RunResult {
	if !c.state.begin() {
		return c.rejected(opts, ErrAlreadyRunning)
	}

	if c.lock != nil {
		ok, err := c.lock.TryLock()
		if err != nil || !ok {
			c.state.abort()
			if err != nil {
				return c.rejected(opts, fmt.Errorf("acquire run lock: %w", err))
			}
			return c.rejected(opts, fmt.Errorf("%w in another process", ErrAlreadyRunning))
		}
		defer func() {
			if err := c.lock.Unlock(); err != nil {
				c.logger.Warn("failed to release run lock", slog.String("error", err.Error()))
			}
		}()
	}

	return c.execute(ctx, opts)
}

// rejected builds the result for a run that never started.
func (c *Coordinator) rejected(opts RunOptions, err error) RunResult {
	now := time.Now()
	c.logger.Warn("run rejected", slog.String("error", err.Error()))
	return RunResult{
		Success:    false,
		Error:      err.Error(),
		ReturnCode: -1,
		StartTime:  now,
		EndTime:    now,
		DryRun:     c.effectiveDryRun(opts.DryRun),
	}
}

func (c *Coordinator) effectiveDryRun(override *bool) bool {
	if override != nil {
		return *override
	}
	s, err := c.settings.Load()
	if err != nil {
		return config.DefaultSettings().DryRun
	}
	return s.DryRun
}

// collector accumulates the lines of one stream. Each drain goroutine owns
// exactly one collector.
type collector struct {
	lines []Line
}

func (c *Coordinator) execute(ctx context.Context, opts RunOptions) (result RunResult) {
	runID := uuid.NewString()
	start := time.Now()

	var (
		stdout, stderr collector
		faults         []string
		returnCode     = -1
		rl             *runLog
		dryRun         bool
	)

	// Last line of defense: nothing escapes Run, and the slot is always released.
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("run panicked", slog.String("run_id", runID), slog.Any("panic", r))
			result = RunResult{
				RunID:      runID,
				Output:     joinLines(stdout.lines, false),
				Error:      fmt.Sprintf("Unexpected error: %v", r),
				ReturnCode: -1,
				StartTime:  start,
				EndTime:    time.Now(),
				DryRun:     dryRun,
			}
			rl.close()
			c.state.finish(result)
		}
	}()

	settings, err := c.settings.Load()
	if opts.DryRun != nil {
		dryRun = *opts.DryRun
	} else if err == nil {
		dryRun = settings.DryRun
	} else {
		dryRun = config.DefaultSettings().DryRun
	}

	log := c.logger.With(slog.String("run_id", runID), slog.Bool("dry_run", dryRun))
	log.Info("starting mover run", slog.String("script", c.opts.ScriptPath))

	fault := func(err error) {
		msg := err.Error()
		if !errors.Is(err, ErrScriptNotFound) {
			msg = "Unexpected error: " + msg
		}
		faults = append(faults, msg)
		rl.writeLine("ERROR: " + msg)
		log.Error("mover run failed", slog.String("error", err.Error()))
	}

	if err != nil {
		rl = nil
		fault(fmt.Errorf("load settings: %w", err))
	} else if rl, err = openRunLog(c.opts.LogPath, &c.logMu); err != nil {
		fault(err)
	} else {
		rl.header(start, dryRun)

		code, err := c.spawn(ctx, settings, opts, rl, &stdout, &stderr)
		returnCode = code
		if err != nil {
			fault(err)
		}
	}

	end := time.Now()
	success := len(faults) == 0 && returnCode == 0

	errText := joinLines(stderr.lines, false)
	for _, f := range faults {
		errText += f + "\n"
	}

	result = RunResult{
		RunID:      runID,
		Success:    success,
		Output:     joinLines(stdout.lines, false),
		Error:      errText,
		ReturnCode: returnCode,
		StartTime:  start,
		EndTime:    end,
		DryRun:     dryRun,
		FilesMoved: CountMoved(stdout.lines),
	}

	rl.footer(success, joinLines(stderr.lines, false), result.Duration())
	if err := rl.close(); err != nil {
		log.Warn("failed to close run log", slog.String("error", err.Error()))
	}

	c.appendHistory(result, stdout.lines, log)
	c.state.finish(result)

	log.Info("mover run completed",
		slog.Bool("success", success),
		slog.Int("return_code", returnCode),
		slog.Int("files_moved", result.FilesMoved),
		slog.Duration("duration", result.Duration()))

	return result
}

// spawn starts the script and drains both streams. It returns the exit code
// and a non-nil error for anything other than a clean exit or a nonzero code.
func (c *Coordinator) spawn(ctx context.Context, settings config.Settings, opts RunOptions, rl *runLog, stdout, stderr *collector) (int, error) {
	if _, err := os.Stat(c.opts.ScriptPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return -1, fmt.Errorf("%w: %s", ErrScriptNotFound, c.opts.ScriptPath)
		}
		return -1, fmt.Errorf("stat script: %w", err)
	}

	runCtx := ctx
	timeout := time.Duration(settings.RunTimeoutSec) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.shell[1:]...), c.opts.ScriptPath)
	cmd := exec.CommandContext(runCtx, c.shell[0], args...)
	cmd.Env = buildEnvironment(settings, opts.DryRun)
	cmd.WaitDelay = waitDelay

	// exec copies the child's pipes into these writers; closing them after
	// Wait is what ends the drains.
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	g := new(errgroup.Group)
	g.Go(func() error { return c.drain(outR, stdout, opts.OnOutput, rl) })
	g.Go(func() error { return c.drain(errR, stderr, opts.OnOutput, rl) })

	var runErr error
	if err := cmd.Start(); err != nil {
		runErr = fmt.Errorf("start script: %w", err)
	} else {
		runErr = cmd.Wait()
	}
	outW.Close()
	errW.Close()
	drainErr := g.Wait()

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return code, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case ctx.Err() != nil:
		return code, fmt.Errorf("run canceled: %w", ctx.Err())
	case runErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return code, runErr
		}
	}

	if drainErr != nil {
		return code, fmt.Errorf("read output: %w", drainErr)
	}
	return code, nil
}

// drain reads r line by line until EOF. Every raw line goes to onOutput,
// then is classified: status lines update the live status only, output
// lines are also written to the run log. If reading fails or onOutput
// panics, the rest of r is discarded so the writer never blocks.
func (c *Coordinator) drain(r io.Reader, col *collector, onOutput func(string), rl *runLog) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("output handler panic: %v", p)
		}
		if err != nil {
			_, _ = io.Copy(io.Discard, r)
		}
	}()

	br := bufio.NewReader(r)
	for {
		raw, readErr := br.ReadString('\n')
		if raw != "" {
			raw = strings.TrimRight(raw, "\r\n")
			if onOutput != nil {
				onOutput(raw)
			}

			line := Classify(raw)
			col.lines = append(col.lines, line)
			c.state.record(line)
			if line.Kind == KindOutput {
				rl.writeLine(line.Raw)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func (c *Coordinator) appendHistory(r RunResult, stdout []Line, log *slog.Logger) {
	if c.history == nil {
		return
	}
	rec := store.Record{
		RunID:           r.RunID,
		Timestamp:       r.StartTime,
		DryRun:          r.DryRun,
		Success:         r.Success,
		DurationSeconds: r.DurationSeconds(),
		FilesMoved:      r.FilesMoved,
		Log:             strings.TrimSpace(joinLines(stdout, true)),
	}
	if err := c.history.Append(rec); err != nil {
		log.Error("failed to append run history", slog.String("error", err.Error()))
	}
}

// buildEnvironment merges the process environment, the settings-derived
// variables and the dry-run override, in increasing precedence.
func buildEnvironment(settings config.Settings, dryRun *bool) []string {
	vars := settings.Env()
	if dryRun != nil {
		vars["DRY_RUN"] = "false"
		if *dryRun {
			vars["DRY_RUN"] = "true"
		}
	}

	env := os.Environ()
	for k, v := range vars {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
