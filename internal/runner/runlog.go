package runner

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var separator = strings.Repeat("=", 60)

// runLog is the append-only run log. Writes from the two drain goroutines
// and from LogEvent are serialized by mu, which is never the state mutex.
// Methods on a nil *runLog are no-ops.
type runLog struct {
	mu *sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func openRunLog(path string, mu *sync.Mutex) (*runLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &runLog{mu: mu, f: f, w: bufio.NewWriter(f)}, nil
}

// write appends text and flushes so tailing readers see it immediately.
func (l *runLog) write(text string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w.WriteString(text)
	l.w.Flush()
}

func (l *runLog) writeLine(line string) {
	l.write(line + "\n")
}

func (l *runLog) header(start time.Time, dryRun bool) {
	l.write(fmt.Sprintf("%s\n[%s] Run (%s) - RUNNING\n%s\n\n",
		separator, start.Format(time.RFC3339), mode(dryRun), separator))
}

func (l *runLog) footer(success bool, stderr string, d time.Duration) {
	var b strings.Builder
	b.WriteByte('\n')
	if stderr != "" && success {
		b.WriteString("--- STDERR ---\n")
		b.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	outcome := "FAILED"
	if success {
		outcome = "SUCCESS"
	}
	fmt.Fprintf(&b, "%s\nCompleted: %s in %.1f seconds\n%s\n", separator, outcome, d.Seconds(), separator)
	l.write(b.String())
}

func (l *runLog) close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w.Flush()
	return l.f.Close()
}
