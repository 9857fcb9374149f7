package runner

import (
	"strings"
)

// StatusPrefix marks a line as a transient progress report from the script.
// Such lines update the live status and are never written to the run log.
const StatusPrefix = "STATUS: "

// LineKind tags a classified output line.
type LineKind int

const (
	// KindOutput is an ordinary output line.
	KindOutput LineKind = iota
	// KindStatus is an in-band status update.
	KindStatus
)

// Line is one classified line of script output.
type Line struct {
	Kind LineKind
	// Raw is the line as read, without the trailing newline.
	Raw string
	// Text is the status text for KindStatus and Raw otherwise.
	Text string
}

// movedMarkers identify a line reporting a (possibly simulated) file move.
var movedMarkers = []string{"Moving:", "Moved:", "[DRY RUN] Would move:"}

// Classify parses a raw line into a tagged Line.
func Classify(raw string) Line {
	if rest, ok := strings.CutPrefix(raw, StatusPrefix); ok {
		return Line{Kind: KindStatus, Raw: raw, Text: strings.TrimSpace(rest)}
	}
	return Line{Kind: KindOutput, Raw: raw, Text: raw}
}

// CountMoved counts output lines that report a file move. Status lines are
// never counted.
func CountMoved(lines []Line) int {
	n := 0
	for _, l := range lines {
		if l.Kind != KindOutput {
			continue
		}
		for _, m := range movedMarkers {
			if strings.Contains(l.Raw, m) {
				n++
				break
			}
		}
	}
	return n
}

// joinLines joins raw lines, one per row with a trailing newline.
// When outputOnly is set status lines are dropped.
func joinLines(lines []Line, outputOnly bool) string {
	var b strings.Builder
	for _, l := range lines {
		if outputOnly && l.Kind != KindOutput {
			continue
		}
		b.WriteString(l.Raw)
		b.WriteByte('\n')
	}
	return b.String()
}
