// Package logger writes structured JSON log lines with PII redaction.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a config string to a Level. Unknown values yield INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger emits one JSON object per line. Fields are alternating key/value pairs.
type Logger struct {
	mu        *sync.Mutex
	out       io.Writer
	level     Level
	redactPII bool
	base      []interface{}
}

var defaultLogger = &Logger{mu: &sync.Mutex{}, out: os.Stderr, level: INFO, redactPII: true}

// Configure sets level and redaction on the default logger.
func Configure(level string, redactPII bool) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.level = ParseLevel(level)
	defaultLogger.redactPII = redactPII
}

// SetOutput redirects the default logger. Tests use it to capture lines.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.out = w
	defaultLogger.mu.Unlock()
}

// With returns a logger that prefixes every entry with the given fields.
func With(fields ...interface{}) *Logger {
	return defaultLogger.With(fields...)
}

// With returns a child logger sharing l's output and settings.
func (l *Logger) With(fields ...interface{}) *Logger {
	base := make([]interface{}, 0, len(l.base)+len(fields))
	base = append(base, l.base...)
	base = append(base, fields...)
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{mu: l.mu, out: l.out, level: l.level, redactPII: l.redactPII, base: base}
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(DEBUG, msg, fields...) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.log(INFO, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.log(WARN, msg, fields...) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339Nano),
		"level": levelNames[level],
		"msg":   msg,
	}

	all := fields
	if len(l.base) > 0 {
		all = append(append([]interface{}{}, l.base...), fields...)
	}
	for i := 0; i+1 < len(all); i += 2 {
		key := fmt.Sprintf("%v", all[i])
		var val string
		if err, ok := all[i+1].(error); ok && err != nil {
			val = err.Error()
		} else {
			val = fmt.Sprintf("%v", all[i+1])
		}
		if l.redactPII {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	fmt.Fprintln(l.out, string(data))
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// keys whose whole value is an address
var addressKeys = []string{"email", "recipient", "subscriber", "to"}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	for _, k := range addressKeys {
		if key == k || strings.HasSuffix(key, "_"+k) || strings.HasPrefix(key, k+"_") {
			if strings.Contains(val, "@") {
				return RedactEmail(val)
			}
		}
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
