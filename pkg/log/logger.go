package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel maps a level name to a LogLevel. Unknown names fall back to Info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Logger writes leveled printf-style lines. Loggers derived with With share
// the parent's level and writer.
type Logger struct {
	level  *atomic.Int32
	logger *log.Logger
	fields string
}

func NewLogger(level LogLevel) *Logger {
	return NewWriterLogger(os.Stdout, level)
}

// NewWriterLogger builds a logger that writes to w.
func NewWriterLogger(w io.Writer, level LogLevel) *Logger {
	l := &Logger{
		level:  new(atomic.Int32),
		logger: log.New(w, "", 0),
	}
	l.level.Store(int32(level))
	return l
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

func (l *Logger) Level() LogLevel {
	return LogLevel(l.level.Load())
}

// With returns a logger that prefixes every message with key=value pairs,
// e.g. With("batch", id, "segment", 2).
func (l *Logger) With(kv ...any) *Logger {
	if len(kv) == 0 {
		return l
	}
	var b strings.Builder
	b.WriteString(l.fields)
	for i := 0; i < len(kv); i += 2 {
		if i+1 < len(kv) {
			fmt.Fprintf(&b, "%v=%v ", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&b, "%v ", kv[i])
		}
	}
	return &Logger{level: l.level, logger: l.logger, fields: b.String()}
}

func (l *Logger) Debug(format string, args ...any) {
	l.output(3, LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.output(3, LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.output(3, LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.output(3, LevelError, format, args...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(format string, args ...any) {
	l.output(3, LevelFatal, format, args...)
	os.Exit(1)
}

// output formats one line; depth is the number of frames between the
// caller of interest and runtime.Caller.
func (l *Logger) output(depth int, level LogLevel, format string, args ...any) {
	if level < l.Level() {
		return
	}

	fileName, line := "unknown", 0
	if _, file, n, ok := runtime.Caller(depth - 1); ok {
		fileName, line = filepath.Base(file), n
	}

	l.logger.Printf("[%s] [%s] [%s:%d] %s%s",
		time.Now().Format("2006-01-02 15:04:05"),
		level,
		fileName,
		line,
		l.fields,
		fmt.Sprintf(format, args...))
}

// FileLogger writes log lines to a file instead of stdout.
type FileLogger struct {
	*Logger
	file *os.File
}

func NewFileLogger(logFile string, level LogLevel) (*FileLogger, error) {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &FileLogger{
		Logger: NewWriterLogger(file, level),
		file:   file,
	}, nil
}

func (l *FileLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

var globalLogger *Logger

func InitLogger(level LogLevel) {
	globalLogger = NewLogger(level)
}

// SetLogger replaces the global logger, e.g. with a FileLogger's embedded Logger.
func SetLogger(l *Logger) {
	if l != nil {
		globalLogger = l
	}
}

func GetLogger() *Logger {
	if globalLogger == nil {
		globalLogger = NewLogger(LevelInfo)
	}
	return globalLogger
}

// With derives a field-prefixed logger from the global one.
func With(kv ...any) *Logger {
	return GetLogger().With(kv...)
}

func Debug(format string, args ...any) {
	GetLogger().output(3, LevelDebug, format, args...)
}

func Info(format string, args ...any) {
	GetLogger().output(3, LevelInfo, format, args...)
}

func Warn(format string, args ...any) {
	GetLogger().output(3, LevelWarn, format, args...)
}

func Error(format string, args ...any) {
	GetLogger().output(3, LevelError, format, args...)
}

func Fatal(format string, args ...any) {
	GetLogger().output(3, LevelFatal, format, args...)
	os.Exit(1)
}
