package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Output formats understood by SimpleLogger.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// SimpleLogger provides a basic structured logger implementation
type SimpleLogger struct {
	mu     *sync.Mutex
	out    io.Writer
	format string
	level  LogLevel
	fields map[string]interface{}
	now    func() time.Time
}

// NewSimpleLogger creates a new text logger writing to stderr at INFO level.
func NewSimpleLogger() *SimpleLogger {
	return NewLogger(os.Stderr, FormatText, "info")
}

// NewLogger creates a logger with an explicit writer, format and level.
func NewLogger(out io.Writer, format, level string) *SimpleLogger {
	if out == nil {
		out = os.Stderr
	}
	if format != FormatJSON {
		format = FormatText
	}
	return &SimpleLogger{
		mu:     &sync.Mutex{},
		out:    out,
		format: format,
		level:  ParseLevel(level),
		fields: make(map[string]interface{}),
		now:    time.Now,
	}
}

// NewDefaultLogger creates a new default logger instance
func NewDefaultLogger() Logger {
	return NewLogger(os.Stderr, GetLogFormat(), GetLogLevel())
}

// Debug logs a debug message
func (l *SimpleLogger) Debug(msg string, fields ...interface{}) {
	l.log(DebugLevel, msg, fields...)
}

// Info logs an info message
func (l *SimpleLogger) Info(msg string, fields ...interface{}) {
	l.log(InfoLevel, msg, fields...)
}

// Warn logs a warning message
func (l *SimpleLogger) Warn(msg string, fields ...interface{}) {
	l.log(WarnLevel, msg, fields...)
}

// Error logs an error message
func (l *SimpleLogger) Error(msg string, fields ...interface{}) {
	l.log(ErrorLevel, msg, fields...)
}

// SetLevel sets the logging level
func (l *SimpleLogger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLevel(strings.ToLower(level))
}

// WithField returns a logger with an additional field
func (l *SimpleLogger) WithField(key string, value interface{}) Logger {
	return l.derive(map[string]interface{}{key: value})
}

// WithFields returns a logger with additional fields
func (l *SimpleLogger) WithFields(fields map[string]interface{}) Logger {
	return l.derive(fields)
}

// With returns a logger with additional fields
func (l *SimpleLogger) With(fields ...Field) Logger {
	extra := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		extra[f.Key] = f.Value
	}
	return l.derive(extra)
}

// derive shares the writer and its lock with the parent so lines never interleave.
func (l *SimpleLogger) derive(extra map[string]interface{}) *SimpleLogger {
	newFields := make(map[string]interface{}, len(l.fields)+len(extra))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range extra {
		newFields[k] = v
	}

	return &SimpleLogger{
		mu:     l.mu,
		out:    l.out,
		format: l.format,
		level:  l.level,
		fields: newFields,
		now:    l.now,
	}
}

// log performs the actual logging
func (l *SimpleLogger) log(level LogLevel, msg string, fields ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	entry := make(map[string]interface{}, len(l.fields)+len(fields)/2)
	for k, v := range l.fields {
		entry[k] = v
	}
	mergeFields(entry, fields)

	var line string
	if l.format == FormatJSON {
		line = l.jsonLine(level, msg, entry)
	} else {
		line = l.textLine(level, msg, entry)
	}
	_, _ = io.WriteString(l.out, line+"\n")
}

func (l *SimpleLogger) textLine(level LogLevel, msg string, entry map[string]interface{}) string {
	parts := []string{
		l.now().UTC().Format(time.RFC3339),
		fmt.Sprintf("[%s]", level),
		msg,
	}
	for _, k := range sortedKeys(entry) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, entry[k]))
	}
	return strings.Join(parts, " ")
}

func (l *SimpleLogger) jsonLine(level LogLevel, msg string, entry map[string]interface{}) string {
	record := make(map[string]interface{}, len(entry)+3)
	for k, v := range entry {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		record[k] = v
	}
	record["time"] = l.now().UTC().Format(time.RFC3339Nano)
	record["level"] = level.String()
	record["msg"] = msg

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Sprintf(`{"level":%q,"msg":%q,"log_error":%q}`, level, msg, err.Error())
	}
	return string(data)
}

// mergeFields accepts key/value pairs, Field values and maps in any mix.
func mergeFields(entry map[string]interface{}, fields []interface{}) {
	for i := 0; i < len(fields); i++ {
		switch f := fields[i].(type) {
		case map[string]interface{}:
			for k, v := range f {
				entry[k] = v
			}
		case Field:
			entry[f.Key] = f.Value
		default:
			if i+1 < len(fields) {
				entry[fmt.Sprint(f)] = fields[i+1]
				i++
			}
		}
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetLogLevel gets the current log level from environment
func GetLogLevel() string {
	level := os.Getenv("STOREFRONT_LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

// GetLogFormat gets the current log format from environment
func GetLogFormat() string {
	if os.Getenv("STOREFRONT_LOG_FORMAT") == FormatJSON {
		return FormatJSON
	}
	return FormatText
}
