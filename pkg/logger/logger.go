// Package logger provides the component-tagged leveled logger used across wndlink.
//
// Every call names the component that produced it ("wndmsg", "iframewnd", ...).
// The F variants attach structured fields. Console output is human readable;
// the optional file sink writes one JSON object per line.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a level name (case-insensitive) to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "fatal":
		return FATAL, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

type logEntry struct {
	Level     string                 `json:"level"`
	Timestamp string                 `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

type Logger struct {
	mu      sync.Mutex
	level   LogLevel
	console *log.Logger
	file    *os.File
}

var std = &Logger{
	level:   INFO,
	console: log.New(os.Stderr, "", 0),
}

// SetLevel sets the minimum level that is emitted.
func SetLevel(level LogLevel) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.level = level
}

// GetLevel returns the current minimum level.
func GetLevel() LogLevel {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.level
}

// SetOutput redirects console output. Tests use it to capture or silence logs.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.console = log.New(w, "", 0)
}

// EnableFileLogging appends JSON lines to path in addition to the console.
func EnableFileLogging(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	std.mu.Lock()
	defer std.mu.Unlock()
	if std.file != nil {
		std.file.Close()
	}
	std.file = f
	return nil
}

// DisableFileLogging closes the file sink, if any.
func DisableFileLogging() {
	std.mu.Lock()
	defer std.mu.Unlock()
	if std.file != nil {
		std.file.Close()
		std.file = nil
	}
}

func logMessage(level LogLevel, component, message string, fields map[string]interface{}) {
	std.mu.Lock()
	defer std.mu.Unlock()

	if level < std.level {
		return
	}

	now := time.Now().UTC()

	if std.file != nil {
		entry := logEntry{
			Level:     level.String(),
			Timestamp: now.Format(time.RFC3339Nano),
			Component: component,
			Message:   message,
			Fields:    fields,
		}
		if data, err := json.Marshal(entry); err == nil {
			std.file.Write(append(data, '\n'))
		}
	}

	var b strings.Builder
	b.WriteString(now.Format("2006-01-02T15:04:05.000Z"))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("]")
	if component != "" {
		b.WriteString(" ")
		b.WriteString(component)
		b.WriteString(":")
	}
	b.WriteString(" ")
	b.WriteString(message)
	if len(fields) > 0 {
		b.WriteString(" ")
		b.WriteString(formatFields(fields))
	}
	std.console.Println(b.String())

	if level == FATAL {
		os.Exit(1)
	}
}

func formatFields(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func Debug(message string)                                 { logMessage(DEBUG, "", message, nil) }
func DebugC(component, message string)                     { logMessage(DEBUG, component, message, nil) }
func DebugF(message string, fields map[string]interface{}) { logMessage(DEBUG, "", message, fields) }
func DebugCF(component, message string, fields map[string]interface{}) {
	logMessage(DEBUG, component, message, fields)
}

func Info(message string)                                 { logMessage(INFO, "", message, nil) }
func InfoC(component, message string)                     { logMessage(INFO, component, message, nil) }
func InfoF(message string, fields map[string]interface{}) { logMessage(INFO, "", message, fields) }
func InfoCF(component, message string, fields map[string]interface{}) {
	logMessage(INFO, component, message, fields)
}

func Warn(message string)                                 { logMessage(WARN, "", message, nil) }
func WarnC(component, message string)                     { logMessage(WARN, component, message, nil) }
func WarnF(message string, fields map[string]interface{}) { logMessage(WARN, "", message, fields) }
func WarnCF(component, message string, fields map[string]interface{}) {
	logMessage(WARN, component, message, fields)
}

func Error(message string)                                 { logMessage(ERROR, "", message, nil) }
func ErrorC(component, message string)                     { logMessage(ERROR, component, message, nil) }
func ErrorF(message string, fields map[string]interface{}) { logMessage(ERROR, "", message, fields) }
func ErrorCF(component, message string, fields map[string]interface{}) {
	logMessage(ERROR, component, message, fields)
}

func Fatal(message string)             { logMessage(FATAL, "", message, nil) }
func FatalC(component, message string) { logMessage(FATAL, component, message, nil) }
func FatalCF(component, message string, fields map[string]interface{}) {
	logMessage(FATAL, component, message, fields)
}
