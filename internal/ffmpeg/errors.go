package ffmpeg

import (
	"fmt"
	"strings"
)

// ExecError reports a non-zero encoder exit. Callers decide whether and how
// to retry; the driver never does.
type ExecError struct {
	ExitCode int
	Stderr   string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.ExitCode, lastStderrLine(e.Stderr))
}

// lastStderrLine extracts the final non-empty stderr line, which is where
// ffmpeg usually puts the actual failure reason.
func lastStderrLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "(no stderr)"
}
