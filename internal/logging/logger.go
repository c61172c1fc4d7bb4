// Package logging provides config-driven categorized file-based logging.
// Logs are written to .nightshift/logs/ with separate files per category.
// When debug mode is off the whole package is a silent no-op, so an
// unattended run costs nothing when nobody is going to read the logs.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot       Category = "boot"       // startup and shutdown
	CategorySession    Category = "session"    // operation session lifecycle
	CategorySupervisor Category = "supervisor" // scheduler loop decisions
	CategoryCycle      Category = "cycle"      // interaction cycle state machine
	CategoryRecovery   Category = "recovery"   // failure classification and repair
	CategoryKnowledge  Category = "knowledge"  // knowledge store operations
	CategoryBrowser    Category = "browser"    // environment driver
	CategoryAPI        Category = "api"        // reasoning service calls
	CategoryCreation   Category = "creation"   // production pipeline
)

// Settings controls what gets written. It is injected at startup from
// the loaded config rather than re-parsed from disk here.
type Settings struct {
	DebugMode  bool
	Level      string // debug/info/warn/error
	JSONFormat bool
	Categories map[string]bool // nil means all enabled
}

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// structuredEntry is the JSON line format used when JSONFormat is set.
type structuredEntry struct {
	Timestamp int64                  `json:"ts"` // unix milliseconds
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	settings  Settings
	setMu     sync.RWMutex
	logLevel  int
)

// Initialize sets up the logging directory. Call once at startup with
// the workspace path and the logging section of the loaded config.
func Initialize(workspace string, s Settings) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	setMu.Lock()
	settings = s
	switch s.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	setMu.Unlock()

	if !s.DebugMode {
		return nil // silent no-op in production mode
	}

	logsDir = filepath.Join(workspace, ".nightshift", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== nightshift logging initialized ===")
	boot.Info("workspace: %s", workspace)
	boot.Info("level: %s json: %v", s.Level, s.JSONFormat)
	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	setMu.RLock()
	defer setMu.RUnlock()
	return settings.DebugMode
}

func isCategoryEnabled(category Category) bool {
	setMu.RLock()
	defer setMu.RUnlock()
	if !settings.DebugMode {
		return false
	}
	if settings.Categories == nil {
		return true
	}
	enabled, exists := settings.Categories[string(category)]
	if !exists {
		return true // enable by default if not specified
	}
	return enabled
}

// Get returns (or creates) a logger for the given category. Returns a
// no-op logger if debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !isCategoryEnabled(category) || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation a plain delete-by-name job.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

func (l *Logger) write(level int, name, format string, args ...interface{}) {
	if l.logger == nil || logLevel > level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	setMu.RLock()
	jsonFmt := settings.JSONFormat
	setMu.RUnlock()
	if jsonFmt {
		entry := structuredEntry{
			Timestamp: time.Now().UnixMilli(),
			Category:  string(l.category),
			Level:     name,
			Message:   msg,
		}
		if data, err := json.Marshal(entry); err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s", name, msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

// Error logs an error message (always written if the file is open).
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
}

// WithFields writes a fully structured entry with custom fields.
func (l *Logger) WithFields(level string, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	entry := structuredEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	if data, err := json.Marshal(entry); err == nil {
		l.logger.Printf("%s", data)
		return
	}
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - quick logging without getting a logger first.
// No-ops when the category is disabled.
// =============================================================================

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Session logs to the session category.
func Session(format string, args ...interface{}) { Get(CategorySession).Info(format, args...) }

// Supervisor logs to the supervisor category.
func Supervisor(format string, args ...interface{}) { Get(CategorySupervisor).Info(format, args...) }

// SupervisorWarn logs a warning to the supervisor category.
func SupervisorWarn(format string, args ...interface{}) { Get(CategorySupervisor).Warn(format, args...) }

// SupervisorError logs an error to the supervisor category.
func SupervisorError(format string, args ...interface{}) {
	Get(CategorySupervisor).Error(format, args...)
}

// Cycle logs to the cycle category.
func Cycle(format string, args ...interface{}) { Get(CategoryCycle).Info(format, args...) }

// CycleDebug logs debug to the cycle category.
func CycleDebug(format string, args ...interface{}) { Get(CategoryCycle).Debug(format, args...) }

// CycleWarn logs a warning to the cycle category.
func CycleWarn(format string, args ...interface{}) { Get(CategoryCycle).Warn(format, args...) }

// Recovery logs to the recovery category.
func Recovery(format string, args ...interface{}) { Get(CategoryRecovery).Info(format, args...) }

// RecoveryWarn logs a warning to the recovery category.
func RecoveryWarn(format string, args ...interface{}) { Get(CategoryRecovery).Warn(format, args...) }

// RecoveryError logs an error to the recovery category.
func RecoveryError(format string, args ...interface{}) { Get(CategoryRecovery).Error(format, args...) }

// Knowledge logs to the knowledge category.
func Knowledge(format string, args ...interface{}) { Get(CategoryKnowledge).Info(format, args...) }

// KnowledgeWarn logs a warning to the knowledge category.
func KnowledgeWarn(format string, args ...interface{}) { Get(CategoryKnowledge).Warn(format, args...) }

// Browser logs to the browser category.
func Browser(format string, args ...interface{}) { Get(CategoryBrowser).Info(format, args...) }

// BrowserDebug logs debug to the browser category.
func BrowserDebug(format string, args ...interface{}) { Get(CategoryBrowser).Debug(format, args...) }

// BrowserWarn logs a warning to the browser category.
func BrowserWarn(format string, args ...interface{}) { Get(CategoryBrowser).Warn(format, args...) }

// API logs to the api category.
func API(format string, args ...interface{}) { Get(CategoryAPI).Info(format, args...) }

// APIError logs an error to the api category.
func APIError(format string, args ...interface{}) { Get(CategoryAPI).Error(format, args...) }

// Creation logs to the creation category.
func Creation(format string, args ...interface{}) { Get(CategoryCreation).Info(format, args...) }

// CreationWarn logs a warning to the creation category.
func CreationWarn(format string, args ...interface{}) { Get(CategoryCreation).Warn(format, args...) }

// =============================================================================
// TIMING HELPER
// =============================================================================

// Timer measures operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}
