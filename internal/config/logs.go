package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadLogs returns the run log contents. When level is set (and not "ALL")
// only lines containing "[LEVEL]" are kept; when lines > 0 only the last
// lines entries are returned.
func (m *Manager) ReadLogs(lines int, level string) (string, error) {
	f, err := os.Open(m.LogFile())
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	level = strings.ToUpper(strings.TrimSpace(level))
	tag := "[" + level + "]"

	var content []string
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			if level == "" || level == "ALL" || strings.Contains(line, tag) {
				content = append(content, line)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read log file: %w", err)
		}
	}

	if lines > 0 && len(content) > lines {
		content = content[len(content)-lines:]
	}
	if len(content) == 0 {
		return "", nil
	}
	return strings.Join(content, "\n") + "\n", nil
}

// ClearLogs removes the run log.
func (m *Manager) ClearLogs() error {
	if err := os.Remove(m.LogFile()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove log file: %w", err)
	}
	return nil
}
