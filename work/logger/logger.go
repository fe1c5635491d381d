package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel orders message severities; messages below the active level are dropped.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	mu      sync.RWMutex
	level   = INFO
	backend = log.New(os.Stdout, "", log.LstdFlags)
)

// ParseLogLevel converts a level name to a LogLevel, defaulting to INFO
// for anything it does not recognize.
func ParseLogLevel(name string) LogLevel {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel sets the active log level from its string name.
func SetLogLevel(name string) {
	mu.Lock()
	defer mu.Unlock()
	level = ParseLogLevel(name)
}

// GetLogLevel returns the active log level as a string.
func GetLogLevel() string {
	mu.RLock()
	defer mu.RUnlock()
	switch level {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// SetOutput redirects log output, primarily so tests can capture it.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	backend = log.New(w, "", log.LstdFlags)
}

func shouldLog(l LogLevel) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= level
}

func logMessage(tag string, format string, v ...interface{}) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	b.Printf("[%s] %s", tag, fmt.Sprintf(format, v...))
}

// Debug logs debug level messages
func Debug(format string, v ...interface{}) {
	if shouldLog(DEBUG) {
		logMessage("DEBUG", format, v...)
	}
}

// Info logs info level messages
func Info(format string, v ...interface{}) {
	if shouldLog(INFO) {
		logMessage("INFO", format, v...)
	}
}

// Warn logs warning level messages
func Warn(format string, v ...interface{}) {
	if shouldLog(WARN) {
		logMessage("WARN", format, v...)
	}
}

// Error logs error level messages
func Error(format string, v ...interface{}) {
	if shouldLog(ERROR) {
		logMessage("ERROR", format, v...)
	}
}
