package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
)

// Level orders log labels from most to least severe.
type Level int32

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

const (
	fatalLabel = "[FATAL] "
	errorLabel = "[ERROR] "
	warnLabel  = "[WARN ] "
	infoLabel  = "[INFO ] "
	debugLabel = "[DEBUG] "
)

var threshold atomic.Int32

func init() {
	threshold.Store(int32(LevelInfo))
}

// SetLevel drops every message less severe than l.
func SetLevel(l Level) {
	threshold.Store(int32(l))
}

// CurrentLevel returns the active threshold.
func CurrentLevel() Level {
	return Level(threshold.Load())
}

// ParseLevel maps "error", "warn", "info" and "debug" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// SetOutput redirects the standard logger, e.g. to a buffer in tests.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// mylog prepends the level string to log.Printf when level passes the threshold.
// Arguments are handled in the manner of [fmt.Printf].
func mylog(level Level, label string, format string, args ...interface{}) {
	if level > CurrentLevel() {
		return
	}
	log.Printf(label+format, args...)
}

// Fatal calls [log.Fatalf], adding a fatal label.
// Arguments are handled in the manner of [fmt.Printf].
func Fatal(format string, args ...interface{}) {
	log.Fatalf(fatalLabel+format, args...)
}

// Error prints to the standard logger, adding an error label.
// Arguments are handled in the manner of [fmt.Printf].
func Error(format string, args ...interface{}) {
	mylog(LevelError, errorLabel, format, args...)
}

// Warn prints to the standard logger, adding a warn label.
// Arguments are handled in the manner of [fmt.Printf].
func Warn(format string, args ...interface{}) {
	mylog(LevelWarn, warnLabel, format, args...)
}

// Info prints to the standard logger, adding an info label.
// Arguments are handled in the manner of [fmt.Printf].
func Info(format string, args ...interface{}) {
	mylog(LevelInfo, infoLabel, format, args...)
}

// Debug prints to the standard logger, adding a debug label.
// Arguments are handled in the manner of [fmt.Printf].
func Debug(format string, args ...interface{}) {
	mylog(LevelDebug, debugLabel, format, args...)
}
