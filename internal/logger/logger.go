package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var levelNames = map[LogLevel]string{
	DEBUG:  "DEBUG",
	INFO:   "INFO",
	WARN:   "WARN",
	ERROR:  "ERROR",
	SILENT: "SILENT",
}

// Fields is re-exported so callers don't import logrus directly
type Fields = logrus.Fields

// Logger provides leveled logging with module support
type Logger struct {
	mu      sync.Mutex
	level   LogLevel
	base    *logrus.Logger
	writers []io.Writer
}

var defaultLogger *Logger
var once sync.Once

// Init initializes the global logger (call once at startup)
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		defaultLogger = New(level, output, useColor)
	})
}

// New creates a new Logger instance
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}

	base := logrus.New()
	base.SetOutput(output)
	base.SetFormatter(&formatter.Formatter{
		NoColors:        !useColor,
		TimestampFormat: "2006/01/02 15:04:05.000000",
		HideKeys:        true,
		FieldsOrder:     []string{"module"},
	})

	l := &Logger{
		base:    base,
		writers: []io.Writer{output},
	}
	l.SetLevel(level)
	return l
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.base.SetLevel(toLogrus(level))
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// AddFileOutput tees log output into a size-rotated file
func (l *Logger) AddFileOutput(path string) {
	if path == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writers = append(l.writers, &lumberjack.Logger{
		Filename:   path,
		LocalTime:  true,
		Compress:   true,
		MaxSize:    50,
		MaxAge:     7,
		MaxBackups: 3,
	})
	l.base.SetOutput(io.MultiWriter(l.writers...))
}

// With returns an entry tagged with module and extra fields
func (l *Logger) With(module string, fields Fields) *logrus.Entry {
	entry := l.base.WithField("module", module)
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	return entry
}

func (l *Logger) log(level LogLevel, module string, format string, args ...interface{}) {
	entry := l.base.WithField("module", module)
	message := fmt.Sprintf(format, args...)

	switch level {
	case DEBUG:
		entry.Debug(message)
	case INFO:
		entry.Info(message)
	case WARN:
		entry.Warn(message)
	case ERROR:
		entry.Error(message)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(module string, format string, args ...interface{}) {
	l.log(DEBUG, module, format, args...)
}

// Info logs an info message
func (l *Logger) Info(module string, format string, args ...interface{}) {
	l.log(INFO, module, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(module string, format string, args ...interface{}) {
	l.log(WARN, module, format, args...)
}

// Error logs an error message
func (l *Logger) Error(module string, format string, args ...interface{}) {
	l.log(ERROR, module, format, args...)
}

func toLogrus(level LogLevel) logrus.Level {
	switch level {
	case DEBUG:
		return logrus.DebugLevel
	case INFO:
		return logrus.InfoLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		// SILENT: only panics get through, and nothing here panics
		return logrus.PanicLevel
	}
}

// Global logger functions (use default logger)

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	if defaultLogger != nil {
		defaultLogger.SetLevel(level)
	}
}

// GetLevel returns the global log level
func GetLevel() LogLevel {
	if defaultLogger != nil {
		return defaultLogger.GetLevel()
	}
	return INFO
}

// SetFileOutput adds rotating file output to the global logger
func SetFileOutput(path string) {
	if defaultLogger != nil {
		defaultLogger.AddFileOutput(path)
	}
}

// With returns a module-tagged entry from the global logger.
// Before Init it returns an entry that discards everything.
func With(module string, fields Fields) *logrus.Entry {
	if defaultLogger != nil {
		return defaultLogger.With(module, fields)
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard.WithField("module", module)
}

// Debug logs a debug message using the global logger
func Debug(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debug(module, format, args...)
	}
}

// Info logs an info message using the global logger
func Info(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Info(module, format, args...)
	}
}

// Warn logs a warning message using the global logger
func Warn(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warn(module, format, args...)
	}
}

// Error logs an error message using the global logger
func Error(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error(module, format, args...)
	}
}

// ParseLevel parses a log level string
func ParseLevel(s string) (LogLevel, error) {
	switch s {
	case "debug", "DEBUG":
		return DEBUG, nil
	case "info", "INFO":
		return INFO, nil
	case "warn", "WARN", "warning", "WARNING":
		return WARN, nil
	case "error", "ERROR":
		return ERROR, nil
	case "silent", "SILENT", "none", "NONE":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}
