// Package logging provides the leveled logger used across the backend.
// Plain text in development, one JSON object per line in production.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Level represents the severity of a log entry
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Fields carries structured key/value pairs for a log entry.
type Fields map[string]interface{}

// Logger writes leveled, structured log entries.
type Logger struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
	json     bool
}

// Entry is the JSON shape of a single log line.
type Entry struct {
	Level   Level  `json:"level"`
	Time    string `json:"time"`
	Message string `json:"msg"`
	Fields  Fields `json:"fields,omitempty"`
	Error   string `json:"error,omitempty"`
	Caller  string `json:"caller,omitempty"`
}

// New creates a logger writing to w.
func New(w io.Writer, minLevel Level, jsonOutput bool) *Logger {
	if _, ok := levelRank[minLevel]; !ok {
		minLevel = LevelInfo
	}
	return &Logger{output: w, minLevel: minLevel, json: jsonOutput}
}

var defaultLogger = FromEnv(os.Getenv)

// FromEnv builds a stdout logger from LOG_LEVEL and LOG_FORMAT.
// JSON output is forced when NODE_ENV is production.
func FromEnv(getenv func(string) string) *Logger {
	jsonOutput := getenv("LOG_FORMAT") == "json" || getenv("NODE_ENV") == "production"
	return New(os.Stdout, ParseLevel(getenv("LOG_LEVEL")), jsonOutput)
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return Level(s)
	default:
		return LevelInfo
	}
}

// Default returns the process logger.
func Default() *Logger {
	return defaultLogger
}

// SetDefault replaces the process logger. Intended for main and tests.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

func (l *Logger) enabled(level Level) bool {
	return levelRank[level] >= levelRank[l.minLevel]
}

// caller returns file:line of the frame skip levels up.
func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			file = file[i+1:]
			break
		}
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func (l *Logger) log(level Level, msg string, fields Fields, err error) {
	if l == nil || !l.enabled(level) {
		return
	}

	entry := Entry{
		Level:   level,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Message: msg,
		Fields:  fields,
		Caller:  caller(3),
	}
	if err != nil {
		entry.Error = err.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.json {
		data, _ := json.Marshal(entry)
		fmt.Fprintln(l.output, string(data))
		return
	}

	fmt.Fprintf(l.output, "[%s] %s %s", entry.Level, entry.Time, entry.Message)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(l.output, " %s=%v", k, fields[k])
	}
	if entry.Error != "" {
		fmt.Fprintf(l.output, " error=%q", entry.Error)
	}
	fmt.Fprintln(l.output)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields Fields) { l.log(LevelDebug, msg, fields, nil) }

// Info logs an info message
func (l *Logger) Info(msg string, fields Fields) { l.log(LevelInfo, msg, fields, nil) }

// Warn logs a warning. err may be nil.
func (l *Logger) Warn(msg string, fields Fields, err error) { l.log(LevelWarn, msg, fields, err) }

// Error logs an error message
func (l *Logger) Error(msg string, fields Fields, err error) { l.log(LevelError, msg, fields, err) }

// Package-level helpers writing to the default logger.

func Debug(msg string, fields Fields)            { defaultLogger.log(LevelDebug, msg, fields, nil) }
func Info(msg string, fields Fields)             { defaultLogger.log(LevelInfo, msg, fields, nil) }
func Warn(msg string, fields Fields, err error)  { defaultLogger.log(LevelWarn, msg, fields, err) }
func Error(msg string, fields Fields, err error) { defaultLogger.log(LevelError, msg, fields, err) }
