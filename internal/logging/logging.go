// Package logging builds the slog pipeline shared by every component: a text
// handler for the log file or console, optional OTel and Graylog shipping, and
// per-record link context. A zerolog adapter serves hosts that log with zerolog.
package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath builds a log file path using OS-appropriate path separators.
// The role keeps the host and joining device apart when both run on one machine.
func LogFilePath(logsDir, name, role string, start time.Time) string {
	if role != "" {
		name = name + "." + role
	}
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", name, start.Format("20060102_150405")),
	)
}
