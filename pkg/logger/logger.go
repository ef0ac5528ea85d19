package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/killallgit/streamline/pkg/config"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the log level
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
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Logger provides a unified logging interface
type Logger struct {
	mu     sync.Mutex
	level  LogLevel
	logger *log.Logger
	file   *os.File
	// errOut mirrors error and fatal messages; nil when the main output is
	// already stderr.
	errOut io.Writer
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Init initializes the default logger from the logging settings. Calling it
// again replaces the previous logger.
func Init(settings config.LoggingConfig) error {
	logger, err := New(parseLevel(settings.Level), settings.LogFile, settings.Preserve)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defaultMu.Lock()
	previous := defaultLogger
	defaultLogger = logger
	defaultMu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return nil
}

// New creates a new Logger instance. An empty logFile logs to stderr.
func New(level LogLevel, logFile string, preserve bool) (*Logger, error) {
	if logFile == "" {
		return &Logger{
			level:  level,
			logger: log.New(os.Stderr, "", log.LstdFlags),
		}, nil
	}

	// Relative paths live next to the settings file
	logPath := config.BuildSettingsPath(logFile)

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if preserve {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	file, err := os.OpenFile(logPath, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		level:  level,
		logger: log.New(file, "", log.LstdFlags),
		file:   file,
		errOut: os.Stderr,
	}, nil
}

// Close closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// parseLevel converts a string level to LogLevel
func parseLevel(levelStr string) LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// log writes a log message if the level is appropriate
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	message := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] %s", level.String(), message)

	if level >= LevelError && l.errOut != nil {
		fmt.Fprintf(l.errOut, "[%s] %s\n", level.String(), message)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(LevelFatal, format, args...)
	os.Exit(1)
}

// Package-level convenience functions using the default logger

func current() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Debug logs a debug message using the default logger
func Debug(format string, args ...interface{}) {
	if l := current(); l != nil {
		l.Debug(format, args...)
	}
}

// Info logs an info message using the default logger
func Info(format string, args ...interface{}) {
	if l := current(); l != nil {
		l.Info(format, args...)
	}
}

// Warn logs a warning message using the default logger
func Warn(format string, args ...interface{}) {
	if l := current(); l != nil {
		l.Warn(format, args...)
	}
}

// Error logs an error message using the default logger
func Error(format string, args ...interface{}) {
	if l := current(); l != nil {
		l.Error(format, args...)
	}
}

// Fatal logs a fatal message and exits using the default logger
func Fatal(format string, args ...interface{}) {
	l := current()
	if l == nil {
		fmt.Fprintf(os.Stderr, "[FATAL] "+format+"\n", args...)
		os.Exit(1)
	}
	l.Fatal(format, args...)
}

// SetOutput points the default logger at w at the given level, creating it
// if needed. Error mirroring is disabled. Useful for testing.
func SetOutput(w io.Writer, level LogLevel) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultLogger == nil {
		defaultLogger = &Logger{logger: log.New(w, "", 0)}
	}

	defaultLogger.mu.Lock()
	defaultLogger.logger.SetOutput(w)
	defaultLogger.level = level
	defaultLogger.errOut = nil
	defaultLogger.mu.Unlock()
}

// Reset discards the default logger, silencing the package-level functions.
func Reset() {
	defaultMu.Lock()
	previous := defaultLogger
	defaultLogger = nil
	defaultMu.Unlock()

	if previous != nil {
		previous.Close()
	}
}

// Close closes the default logger
func Close() error {
	if l := current(); l != nil {
		return l.Close()
	}
	return nil
}
