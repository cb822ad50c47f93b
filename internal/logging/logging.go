// Package logging builds the extension's slog pipeline: text output to
// console or a per-session log file, with optional Graylog and OTel
// fan-out.
package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath builds the per-session log file path using OS-appropriate
// separators.
func LogFilePath(logsDir, extensionName string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", extensionName, sessionStart.Format("20060102_150405")),
	)
}
