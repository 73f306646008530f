package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	// LevelDebug is the debug log level.
	LevelDebug LogLevel = iota
	// LevelInfo is the info log level.
	LevelInfo
	// LevelWarn is the warning log level.
	LevelWarn
	// LevelError is the error log level.
	LevelError
)

// String returns the string representation of LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LogFormat selects how entries are rendered.
type LogFormat string

const (
	// FormatText renders "[time] [LEVEL] k=v msg" lines.
	FormatText LogFormat = "text"
	// FormatJSON renders one JSON object per line.
	FormatJSON LogFormat = "json"
)

// ParseLogFormat parses a log format name. Empty means text.
func ParseLogFormat(s string) (LogFormat, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format: %q", s)
	}
}

// Logger is the interface for logging.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// sink is shared by a logger and every logger derived from it.
type sink struct {
	mu     sync.Mutex
	out    io.Writer
	level  LogLevel
	format LogFormat
	clock  Clock
}

// DefaultLogger writes leveled entries with structured fields.
type DefaultLogger struct {
	sink   *sink
	fields map[string]interface{}
}

// NewDefaultLogger creates a text logger. A nil output means stdout.
func NewDefaultLogger(level LogLevel, output io.Writer) *DefaultLogger {
	if output == nil {
		output = os.Stdout
	}
	return &DefaultLogger{
		sink: &sink{out: output, level: level, format: FormatText, clock: NewRealClock()},
	}
}

// NewFileLogger creates a logger that appends to a file.
func NewFileLogger(level LogLevel, logPath string) (*DefaultLogger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return NewDefaultLogger(level, file), file, nil
}

// OpenLogger builds a logger from its configuration values. output is
// "stdout", "stderr" or a file path. The returned closer is never nil.
func OpenLogger(level, format, output string) (*DefaultLogger, io.Closer, error) {
	f, err := ParseLogFormat(format)
	if err != nil {
		return nil, nil, err
	}
	lvl := ParseLogLevel(level)

	var l *DefaultLogger
	closer := io.Closer(nopCloser{})
	switch output {
	case "", "stdout":
		l = NewDefaultLogger(lvl, os.Stdout)
	case "stderr":
		l = NewDefaultLogger(lvl, os.Stderr)
	default:
		l, closer, err = NewFileLogger(lvl, output)
		if err != nil {
			return nil, nil, err
		}
	}
	l.SetFormat(f)
	return l, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetLevel sets the log level of l and every logger derived from it.
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// SetFormat sets the output format.
func (l *DefaultLogger) SetFormat(format LogFormat) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.format = format
}

// SetClock sets the clock used for timestamps.
func (l *DefaultLogger) SetClock(clock Clock) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.clock = clock
}

// Debug logs a debug message.
func (l *DefaultLogger) Debug(msg string, args ...interface{}) {
	l.log(LevelDebug, msg, args...)
}

// Info logs an info message.
func (l *DefaultLogger) Info(msg string, args ...interface{}) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *DefaultLogger) Warn(msg string, args ...interface{}) {
	l.log(LevelWarn, msg, args...)
}

// Error logs an error message.
func (l *DefaultLogger) Error(msg string, args ...interface{}) {
	l.log(LevelError, msg, args...)
}

// WithField creates a new logger with the given field.
func (l *DefaultLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields creates a new logger with the given fields added.
func (l *DefaultLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &DefaultLogger{sink: l.sink, fields: merged}
}

func (l *DefaultLogger) log(level LogLevel, msg string, args ...interface{}) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}

	text := msg
	if len(args) > 0 {
		text = fmt.Sprintf(msg, args...)
	}
	now := s.clock.Now()

	var line []byte
	if s.format == FormatJSON {
		line = l.jsonLine(now, level, text)
	} else {
		line = l.textLine(now, level, text)
	}
	_, _ = s.out.Write(line)
}

func (l *DefaultLogger) keys() []string {
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (l *DefaultLogger) textLine(now time.Time, level LogLevel, msg string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] [%s]", now.Format("2006-01-02 15:04:05.000"), level)
	for _, k := range l.keys() {
		fmt.Fprintf(&sb, " %s=%v", k, l.fields[k])
	}
	sb.WriteByte(' ')
	sb.WriteString(msg)
	sb.WriteByte('\n')
	return []byte(sb.String())
}

func (l *DefaultLogger) jsonLine(now time.Time, level LogLevel, msg string) []byte {
	entry := make(map[string]interface{}, len(l.fields)+3)
	for k, v := range l.fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		entry[k] = v
	}
	entry["time"] = now.Format(time.RFC3339Nano)
	entry["level"] = strings.ToLower(level.String())
	entry["msg"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		data, _ = json.Marshal(map[string]string{
			"time":  now.Format(time.RFC3339Nano),
			"level": strings.ToLower(level.String()),
			"msg":   msg,
			"error": "unencodable fields: " + err.Error(),
		})
	}
	return append(data, '\n')
}

// ParseLogLevel parses a string to LogLevel.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger = NewDefaultLogger(LevelInfo, os.Stderr)
)

// SetGlobalLogger sets the global logger.
func SetGlobalLogger(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the global logger.
func GetGlobalLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// NullLogger is a logger that discards all log messages.
type NullLogger struct{}

// Debug does nothing.
func (l *NullLogger) Debug(msg string, args ...interface{}) {}

// Info does nothing.
func (l *NullLogger) Info(msg string, args ...interface{}) {}

// Warn does nothing.
func (l *NullLogger) Warn(msg string, args ...interface{}) {}

// Error does nothing.
func (l *NullLogger) Error(msg string, args ...interface{}) {}

// WithField returns the same NullLogger.
func (l *NullLogger) WithField(key string, value interface{}) Logger {
	return l
}

// WithFields returns the same NullLogger.
func (l *NullLogger) WithFields(fields map[string]interface{}) Logger {
	return l
}
