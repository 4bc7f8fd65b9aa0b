package agent

import (
	"context"
	"strings"
)

// ProgressSink receives human-readable progress lines while a turn runs.
type ProgressSink interface {
	Progress(ctx context.Context, sessionID, line string)
}

// NopProgress discards progress lines.
type NopProgress struct{}

func (NopProgress) Progress(context.Context, string, string) {}

// Lines carrying these prefixes are announcements the model makes about its
// own plan; they bypass buffering and flush immediately.
var flushMarkers = []string{"TOOL:", "STEP:"}

// lineBuffer accumulates streamed text deltas and releases whole lines,
// avoiding noisy partial-token progress events. Marker lines flush as soon
// as the newline that terminates them arrives, ahead of any buffered text.
type lineBuffer struct {
	pending strings.Builder
}

// Write appends a delta and returns the complete lines it released.
func (b *lineBuffer) Write(delta string) []string {
	if delta == "" {
		return nil
	}
	b.pending.WriteString(delta)
	buffered := b.pending.String()
	if !strings.Contains(buffered, "\n") {
		return nil
	}

	parts := strings.Split(buffered, "\n")
	b.pending.Reset()
	b.pending.WriteString(parts[len(parts)-1])

	var lines []string
	for _, line := range parts[:len(parts)-1] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if isMarkerLine(line) {
			// Marker lines jump the queue.
			lines = append([]string{line}, lines...)
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Flush releases whatever is left, terminated or not.
func (b *lineBuffer) Flush() []string {
	rest := strings.TrimRight(b.pending.String(), "\r\n")
	b.pending.Reset()
	if rest == "" {
		return nil
	}
	return []string{rest}
}

func isMarkerLine(line string) bool {
	for _, marker := range flushMarkers {
		if strings.HasPrefix(line, marker) {
			return true
		}
	}
	return false
}
