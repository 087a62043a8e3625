package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
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

var (
	fileLogger *FileLogger
	fileOnce   sync.Once
	defaultDir string
	dirMu      sync.Mutex
)

// SetDefaultDir sets the directory component loggers write into. Must be
// called before the first NewComponentLogger to take effect.
func SetDefaultDir(dir string) {
	dirMu.Lock()
	defer dirMu.Unlock()
	defaultDir = dir
}

// FileLogger writes timestamped lines to howelld.log and mirrors them to
// stdout so service managers capture the same stream.
type FileLogger struct {
	file      *os.File
	logger    *log.Logger
	level     Level
	mu        *sync.Mutex
	component string
	echo      bool
}

// NewComponentLogger returns the shared file logger scoped to a component.
func NewComponentLogger(component string) *FileLogger {
	fileOnce.Do(func() {
		fileLogger = newFileLogger(LevelDebug)
	})
	return &FileLogger{
		file:      fileLogger.file,
		logger:    fileLogger.logger,
		level:     fileLogger.level,
		mu:        fileLogger.mu,
		component: component,
		echo:      fileLogger.echo,
	}
}

func newFileLogger(level Level) *FileLogger {
	l := &FileLogger{level: level, mu: &sync.Mutex{}, echo: true}

	dirMu.Lock()
	dir := defaultDir
	dirMu.Unlock()
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return l
		}
		dir = home
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return l
	}

	logPath := filepath.Join(dir, "howelld.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("Failed to open log file: %v", err)
		return l
	}

	l.file = file
	l.logger = log.New(file, "", 0)
	return l
}

// SetLevel sets the minimum log level.
func (l *FileLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Close closes the log file.
func (l *FileLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *FileLogger) log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	// Format: 2026-02-07 12:34:56 [INFO] [Tasks] store.go:123 - Message
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	component := l.component
	if component == "" {
		component = "HOWELL"
	}

	message := fmt.Sprintf(format, args...)
	logLine := fmt.Sprintf("%s [%s] [%s] %s:%d - %s\n",
		timestamp, level, component, file, line, message)

	if l.logger != nil {
		l.logger.Print(logLine)
	}
	if l.echo {
		fmt.Print(logLine)
	}
}

// Debug logs a debug message.
func (l *FileLogger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message.
func (l *FileLogger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *FileLogger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *FileLogger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}
