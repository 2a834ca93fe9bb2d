package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

// ParseLevel maps a config string to a LogLevel, defaulting to INFO
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case LogLevelDebug:
		return LogLevelDebug
	case LogLevelWarn, "WARNING":
		return LogLevelWarn
	case LogLevelError:
		return LogLevelError
	case LogLevelFatal:
		return LogLevelFatal
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	case LogLevelFatal:
		// logged at error severity, the process is never exited from here
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// FileConfig controls the rotating log file
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Options configures the shared zap core all component loggers write to
type Options struct {
	Level   LogLevel
	Console io.Writer // nil means stdout, io.Discard silences the console
	File    *FileConfig
}

// Logger provides structured logging for one component
type Logger struct {
	component string
	zap       *zap.Logger
	closer    io.Closer
}

// New builds a root logger from options. The returned logger should be closed on exit
// so the rotating file is flushed.
func New(component string, opts Options) *Logger {
	level := zap.NewAtomicLevelAt(opts.Level.zapLevel())

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig()), zapcore.AddSync(console), level),
	}

	var closer io.Closer
	if opts.File != nil && opts.File.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File.Path,
			MaxSize:    orDefault(opts.File.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.File.MaxBackups, 5),
			MaxAge:     orDefault(opts.File.MaxAgeDays, 14),
			Compress:   opts.File.Compress,
			LocalTime:  true,
		}
		closer = rotator
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), zapcore.AddSync(rotator), level))
	}

	z := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(2))

	return &Logger{
		component: component,
		zap:       z.Named(component),
		closer:    closer,
	}
}

// NewLogger creates a console logger at INFO for a specific component
func NewLogger(component string) *Logger {
	return New(component, Options{Level: LogLevelInfo})
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{component: "nop", zap: zap.NewNop()}
}

// Component returns a child logger sharing the same outputs
func (l *Logger) Component(name string) *Logger {
	return &Logger{
		component: name,
		zap:       l.zap.Named(name),
	}
}

// Close flushes buffered entries and closes the rotating file if any
func (l *Logger) Close() error {
	_ = l.zap.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " "
	return cfg
}

func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// log writes a log entry
func (l *Logger) log(level LogLevel, message string, err error, context map[string]interface{}) {
	fields := make([]zap.Field, 0, len(context)+1)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	// stable field order keeps the console output readable
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, context[k]))
	}

	switch level {
	case LogLevelDebug:
		l.zap.Debug(message, fields...)
	case LogLevelWarn:
		l.zap.Warn(message, fields...)
	case LogLevelError:
		l.zap.Error(message, fields...)
	case LogLevelFatal:
		l.zap.Error(message, append(fields, zap.Bool("fatal", true))...)
	default:
		l.zap.Info(message, fields...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log(LogLevelDebug, message, nil, nil)
}

// DebugWithContext logs a debug message with context
func (l *Logger) DebugWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelDebug, message, nil, context)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log(LogLevelInfo, message, nil, nil)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LogLevelInfo, fmt.Sprintf(format, args...), nil, nil)
}

// InfoWithContext logs an info message with context
func (l *Logger) InfoWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelInfo, message, nil, context)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log(LogLevelWarn, message, nil, nil)
}

// WarnWithContext logs a warning message with context
func (l *Logger) WarnWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelWarn, message, nil, context)
}

// Error logs an error message
func (l *Logger) Error(message string, err error) {
	l.log(LogLevelError, message, err, nil)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(message string, err error, context map[string]interface{}) {
	l.log(LogLevelError, message, err, context)
}

// Fatal logs a fatal error message. It does not exit.
func (l *Logger) Fatal(message string, err error) {
	l.log(LogLevelFatal, message, err, nil)
}

// WithContext returns a logger that includes context on every line
func (l *Logger) WithContext(context map[string]interface{}) *ContextLogger {
	return &ContextLogger{
		logger:  l,
		context: context,
	}
}

// ContextLogger is a logger with pre-set context
type ContextLogger struct {
	logger  *Logger
	context map[string]interface{}
}

// Debug logs a debug message with pre-set context
func (cl *ContextLogger) Debug(message string) {
	cl.logger.log(LogLevelDebug, message, nil, cl.context)
}

// Info logs an info message with pre-set context
func (cl *ContextLogger) Info(message string) {
	cl.logger.log(LogLevelInfo, message, nil, cl.context)
}

// Warn logs a warning message with pre-set context
func (cl *ContextLogger) Warn(message string) {
	cl.logger.log(LogLevelWarn, message, nil, cl.context)
}

// Error logs an error message with pre-set context
func (cl *ContextLogger) Error(message string, err error) {
	cl.logger.log(LogLevelError, message, err, cl.context)
}
