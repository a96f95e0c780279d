package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("SPECWEAVE_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMutex    sync.Mutex

	stderr io.Writer = os.Stderr
	stdout io.Writer = os.Stdout
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(stderr, format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Fprintf(stdout, format, args...)
	}
}

// LogEvent appends an event line to <root>/.specweave/logs/events.log.
// Format: TIMESTAMP|EVENT_CODE|INCREMENT_ID|DETAILS
// Failures are silent; event logging must never interrupt a sync.
func LogEvent(projectRoot, eventCode, incrementID, details string) {
	if projectRoot == "" {
		return
	}
	if incrementID == "" {
		incrementID = "none"
	}
	logPath := filepath.Join(projectRoot, ".specweave", "logs", "events.log")
	entry := fmt.Sprintf("%s|%s|%s|%s\n",
		time.Now().UTC().Format(time.RFC3339), eventCode, incrementID, details)

	logMutex.Lock()
	defer logMutex.Unlock()

	_ = os.MkdirAll(filepath.Dir(logPath), 0o755)
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(entry)
}
