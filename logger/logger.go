package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents logging verbosity.
type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the level's display name.
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "NONE"
	}
}

// ParseLogLevel parses a level name; unknown names default to info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off":
		return LogLevelNone
	case "error":
		return LogLevelError
	case "warn", "warning":
		return LogLevelWarn
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelInfo
	}
}

// Logger interface defines core logging methods
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)

	// Configuration
	SetLevel(level LogLevel)
	GetLevel() LogLevel
	SetOutput(w io.Writer)
}

// DefaultLogger is the default logger implementation
type DefaultLogger struct {
	mu     sync.RWMutex
	level  LogLevel
	logger *log.Logger
	prefix string
}

// NewDefaultLogger creates a new default logger
func NewDefaultLogger(prefix string) *DefaultLogger {
	return &DefaultLogger{
		level:  LogLevelInfo,
		logger: log.New(os.Stdout, "", 0),
		prefix: prefix,
	}
}

// SetLevel sets the logging level
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current logging level
func (l *DefaultLogger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetOutput sets the output writer
func (l *DefaultLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.SetOutput(w)
}

func (l *DefaultLogger) log(level LogLevel, format string, args ...any) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.level >= level {
		timestamp := time.Now().Format("15:04:05.000")
		message := fmt.Sprintf(format, args...)
		l.logger.Printf("%s [%s] %s: %s", timestamp, level, l.prefix, message)
	}
}

func (l *DefaultLogger) Debug(format string, args ...any) {
	l.log(LogLevelDebug, format, args...)
}

func (l *DefaultLogger) Info(format string, args ...any) {
	l.log(LogLevelInfo, format, args...)
}

func (l *DefaultLogger) Warn(format string, args ...any) {
	l.log(LogLevelWarn, format, args...)
}

func (l *DefaultLogger) Error(format string, args ...any) {
	l.log(LogLevelError, format, args...)
}
